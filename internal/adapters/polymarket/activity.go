package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	activityPath  = "/activity"
	positionsPath = "/positions"
)

// FetchWalletTrades devuelve una página de trades de la wallet, más nuevos
// primero. Las entradas que no se pueden parsear se descartan y se loguean.
func (c *Client) FetchWalletTrades(ctx context.Context, wallet string, limit, offset int) ([]domain.DetectedTrade, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("type", "TRADE")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("sortBy", "TIMESTAMP")
	q.Set("sortDirection", "DESC")
	u := c.dataBase + activityPath + "?" + q.Encode()

	var resp []rawActivity
	if err := c.http.GetJSON(ctx, c.dataLimiter, u, &resp); err != nil {
		return nil, fmt.Errorf("data-api.FetchWalletTrades: %w", err)
	}

	trades := make([]domain.DetectedTrade, 0, len(resp))
	dropped := 0
	for _, ra := range resp {
		t, err := mapActivity(ra)
		if err != nil {
			dropped++
			slog.Debug("activity entry dropped", "tx", ra.TransactionHash, "err", err)
			continue
		}
		t.Wallet = wallet
		trades = append(trades, t)
	}

	slog.Debug("fetched wallet activity page",
		"wallet", wallet,
		"offset", offset,
		"count", len(resp),
		"dropped", dropped,
	)
	return trades, nil
}

// FetchWalletExposure devuelve las shares que la wallet tiene hoy en un
// mercado, por outcome. Sin posiciones devuelve un TargetExposure vacío.
func (c *Client) FetchWalletExposure(ctx context.Context, wallet, marketID string) (domain.TargetExposure, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("market", marketID)
	q.Set("sizeThreshold", "0")
	u := c.dataBase + positionsPath + "?" + q.Encode()

	var resp []rawPosition
	if err := c.http.GetJSON(ctx, c.dataLimiter, u, &resp); err != nil {
		return domain.TargetExposure{}, fmt.Errorf("data-api.FetchWalletExposure: %w", err)
	}

	exp := domain.TargetExposure{MarketID: marketID, Shares: make(map[string]float64)}
	for _, rp := range resp {
		if rp.ConditionID != "" && !strings.EqualFold(rp.ConditionID, marketID) {
			continue
		}
		size, err := rp.Size.Float64()
		if err != nil || size <= 0 || rp.Outcome == "" {
			continue
		}
		exp.Shares[rp.Outcome] += size
	}
	return exp, nil
}
