// Package oracle contains the resolution sources polled by the aggregator:
// a Binance price feed for crypto window markets, ESPN scoreboards for
// games, a market-price consensus fallback and the platform's own settlement.
package oracle

import (
	"strings"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	SourcePriceFeed = "price_feed"
	SourceSports    = "sports"
	SourceConsensus = "consensus"
	SourcePlatform  = "platform"
)

// matchOutcome returns the market outcome whose name contains, or is
// contained in, name. Matching is case-insensitive.
func matchOutcome(m domain.Market, name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", false
	}
	for _, q := range m.Outcomes {
		o := strings.ToLower(q.Name)
		if o == n {
			return q.Name, true
		}
	}
	for _, q := range m.Outcomes {
		o := strings.ToLower(q.Name)
		if o != "" && (strings.Contains(o, n) || strings.Contains(n, o)) {
			return q.Name, true
		}
	}
	return "", false
}

// isYesNo reports whether the market is a binary Yes/No market.
func isYesNo(m domain.Market) bool {
	if len(m.Outcomes) != 2 {
		return false
	}
	_, yes := m.Quote("Yes")
	_, no := m.Quote("No")
	return yes && no
}
