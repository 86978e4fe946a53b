package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	gammaMarketsPath  = "/markets"
	gammaConditionMax = 20
)

// FetchMarket devuelve un mercado por condition id con best bid/ask por outcome.
func (c *Client) FetchMarket(ctx context.Context, marketID string) (domain.Market, error) {
	ms, err := c.FetchMarkets(ctx, []string{marketID})
	if err != nil {
		return domain.Market{}, err
	}
	if len(ms) == 0 {
		return domain.Market{}, fmt.Errorf("gamma.FetchMarket %s: %w", marketID, domain.ErrNotFound)
	}
	return ms[0], nil
}

// FetchMarkets obtiene los mercados en batches de gammaConditionMax y les
// aplica los books del CLOB. Los ids desconocidos se omiten; el orden de
// salida sigue el de marketIDs.
func (c *Client) FetchMarkets(ctx context.Context, marketIDs []string) ([]domain.Market, error) {
	byID := make(map[string]domain.Market, len(marketIDs))
	for i := 0; i < len(marketIDs); i += gammaConditionMax {
		end := min(i+gammaConditionMax, len(marketIDs))
		batch := marketIDs[i:end]

		q := url.Values{}
		q.Set("condition_ids", strings.Join(batch, ","))
		q.Set("limit", strconv.Itoa(len(batch)))
		ms, err := c.fetchGamma(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("gamma.FetchMarkets: %w", err)
		}
		for _, m := range ms {
			byID[m.ID] = m
		}
	}

	out := make([]domain.Market, 0, len(byID))
	for _, id := range marketIDs {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	if err := c.applyBooks(ctx, out); err != nil {
		return nil, fmt.Errorf("gamma.FetchMarkets: %w", err)
	}
	return out, nil
}

// FetchResolutionCandidates devuelve mercados abiertos cuya fecha de fin ya
// pasó: la ventana en la que el resultado se conoce pero aún no se liquidó.
func (c *Client) FetchResolutionCandidates(ctx context.Context, limit int) ([]domain.Market, error) {
	now := c.now().UTC()
	q := url.Values{}
	q.Set("closed", "false")
	q.Set("active", "true")
	q.Set("end_date_max", now.Format(time.RFC3339))
	q.Set("end_date_min", now.Add(-7*24*time.Hour).Format(time.RFC3339))
	q.Set("order", "endDate")
	q.Set("ascending", "false")
	q.Set("limit", strconv.Itoa(limit))

	ms, err := c.fetchGamma(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("gamma.FetchResolutionCandidates: %w", err)
	}
	if err := c.applyBooks(ctx, ms); err != nil {
		return nil, fmt.Errorf("gamma.FetchResolutionCandidates: %w", err)
	}
	slog.Debug("resolution candidates fetched", "count", len(ms))
	return ms, nil
}

func (c *Client) fetchGamma(ctx context.Context, q url.Values) ([]domain.Market, error) {
	var resp gammaMarketsResponse
	u := c.gammaBase + gammaMarketsPath + "?" + q.Encode()
	if err := c.http.GetJSON(ctx, c.gammaLimiter, u, &resp); err != nil {
		return nil, err
	}

	markets := make([]domain.Market, 0, len(resp))
	for _, gm := range resp {
		m, err := mapGammaMarket(gm)
		if err != nil {
			slog.Debug("gamma market skipped", "condition_id", gm.ConditionID, "err", err)
			continue
		}
		m.UpdatedAt = c.now()
		markets = append(markets, m)
	}
	return markets, nil
}

// applyBooks rellena best bid/ask de los mercados abiertos.
func (c *Client) applyBooks(ctx context.Context, markets []domain.Market) error {
	var tokenIDs []string
	for _, m := range markets {
		if m.Status != domain.MarketOpen {
			continue
		}
		for _, q := range m.Outcomes {
			tokenIDs = append(tokenIDs, q.TokenID)
		}
	}
	if len(tokenIDs) == 0 {
		return nil
	}

	books, err := c.FetchOrderBooks(ctx, tokenIDs)
	if err != nil {
		return err
	}
	for i := range markets {
		for _, q := range markets[i].Outcomes {
			if ob, ok := books[q.TokenID]; ok {
				ob.ApplyTo(&markets[i])
			}
		}
	}
	return nil
}
