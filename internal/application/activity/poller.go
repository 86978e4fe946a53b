// Package activity detects new trades of the target wallet.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/ports"
)

// Config controls paging and the size of the seen-trade set.
type Config struct {
	PageSize           int
	MaxPages           int
	SeenCapacity       int
	SkipHistoryOnStart bool
}

// Poller surfaces each trade of a wallet exactly once, oldest first. It is
// owned by the wallet-poll task and is not safe for concurrent use.
type Poller struct {
	feed      ports.ActivityProvider
	cfg       Config
	logger    *slog.Logger
	seen      *seenSet
	wallet    string
	baselined bool
}

// New creates a Poller. Call Reset when the target wallet changes.
func New(feed ports.ActivityProvider, cfg Config, logger *slog.Logger) *Poller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		feed:   feed,
		cfg:    cfg,
		logger: logger,
		seen:   newSeenSet(cfg.SeenCapacity),
	}
}

// Reset forgets every seen trade and re-arms the baseline.
func (p *Poller) Reset() {
	p.seen = newSeenSet(p.cfg.SeenCapacity)
	p.baselined = false
	p.wallet = ""
}

// Seen returns how many trade ids are remembered.
func (p *Poller) Seen() int {
	return p.seen.len()
}

// Poll fetches the wallet's recent trades and returns the ones not seen
// before, in increasing timestamp order. On a fetch failure it returns no
// trades and an error wrapping domain.ErrTransient, unless the feed reported
// a fatal error; nothing is marked seen.
func (p *Poller) Poll(ctx context.Context, wallet string) ([]domain.DetectedTrade, error) {
	if !strings.EqualFold(wallet, p.wallet) {
		p.Reset()
		p.wallet = wallet
	}

	var fresh []domain.DetectedTrade
	batch := make(map[string]bool)
	for page := 0; page < p.cfg.MaxPages; page++ {
		trades, err := p.feed.FetchWalletTrades(ctx, wallet, p.cfg.PageSize, page*p.cfg.PageSize)
		if err != nil {
			if domain.IsFatal(err) {
				return nil, fmt.Errorf("activity.Poll: page %d: %w", page, err)
			}
			return nil, fmt.Errorf("activity.Poll: page %d: %w: %w", page, domain.ErrTransient, err)
		}
		unseen := 0
		for _, t := range trades {
			if t.ID == "" || batch[t.ID] || p.seen.has(t.ID, t.Timestamp) {
				continue
			}
			batch[t.ID] = true
			fresh = append(fresh, t)
			unseen++
		}
		if len(trades) < p.cfg.PageSize || unseen == 0 {
			break
		}
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		if !fresh[i].Timestamp.Equal(fresh[j].Timestamp) {
			return fresh[i].Timestamp.Before(fresh[j].Timestamp)
		}
		return fresh[i].ID < fresh[j].ID
	})
	for _, t := range fresh {
		p.seen.add(t.ID, t.Timestamp)
	}

	if !p.baselined {
		p.baselined = true
		if p.cfg.SkipHistoryOnStart {
			p.logger.Info("activity baseline established", "wallet", wallet, "trades", len(fresh))
			return nil, nil
		}
	}
	return fresh, nil
}
