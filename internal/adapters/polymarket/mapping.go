package polymarket

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// winnerPrice es el precio a partir del cual un outcome de un mercado
// cerrado se considera ganador (Gamma publica "1" y "0").
const winnerPrice = 0.99

// mapActivity convierte una entrada de /activity a domain.DetectedTrade.
// Devuelve domain.ErrMalformed si falta algún campo necesario.
func mapActivity(r rawActivity) (domain.DetectedTrade, error) {
	if !strings.EqualFold(r.Type, "TRADE") {
		return domain.DetectedTrade{}, fmt.Errorf("activity type %q: %w", r.Type, domain.ErrMalformed)
	}

	var side domain.Side
	switch strings.ToUpper(r.Side) {
	case "BUY", "B":
		side = domain.Buy
	case "SELL", "S":
		side = domain.Sell
	default:
		return domain.DetectedTrade{}, fmt.Errorf("side %q: %w", r.Side, domain.ErrMalformed)
	}

	price, err := r.Price.Float64()
	if err != nil || price <= 0 || price >= 1 {
		return domain.DetectedTrade{}, fmt.Errorf("price %q: %w", r.Price, domain.ErrMalformed)
	}
	size, err := r.Size.Float64()
	if err != nil || size <= 0 {
		// Algunas entradas sólo traen usdcSize.
		usdc, uerr := r.USDCSize.Float64()
		if uerr != nil || usdc <= 0 {
			return domain.DetectedTrade{}, fmt.Errorf("size %q: %w", r.Size, domain.ErrMalformed)
		}
		size = usdc / price
	}

	ts := parseTradeTimestamp(r.Timestamp)
	if ts.IsZero() || r.ConditionID == "" || r.Asset == "" {
		return domain.DetectedTrade{}, fmt.Errorf("missing timestamp, market or asset: %w", domain.ErrMalformed)
	}

	id := r.TransactionHash
	if id == "" {
		id = r.Timestamp.String()
	}
	// Una transacción puede llenar varios assets.
	id += ":" + r.Asset + ":" + string(side)

	return domain.DetectedTrade{
		ID:        id,
		Wallet:    r.ProxyWallet,
		MarketID:  r.ConditionID,
		Title:     r.Title,
		Outcome:   r.Outcome,
		TokenID:   r.Asset,
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: ts,
	}, nil
}

// mapGammaMarket convierte un mercado de Gamma a domain.Market, sin books.
func mapGammaMarket(gm gammaMarket) (domain.Market, error) {
	names, err := parseJSONStrings(gm.Outcomes)
	if err != nil {
		return domain.Market{}, fmt.Errorf("outcomes: %w", err)
	}
	tokens, err := parseJSONStrings(gm.ClobTokenIDs)
	if err != nil {
		return domain.Market{}, fmt.Errorf("clobTokenIds: %w", err)
	}
	prices, _ := parseJSONStrings(gm.OutcomePrices)
	if len(names) == 0 || len(names) != len(tokens) {
		return domain.Market{}, fmt.Errorf("%d outcomes for %d tokens: %w", len(names), len(tokens), domain.ErrMalformed)
	}

	m := domain.Market{
		ID:        gm.ConditionID,
		Title:     gm.Question,
		Slug:      gm.Slug,
		NegRisk:   gm.NegRisk,
		UMAStatus: strings.ToLower(gm.UMAResolutionStatus),
		EndDate:   parseEndDate(gm.EndDate, gm.EndDateISO),
		Outcomes:  make([]domain.OutcomeQuote, len(names)),
	}
	for i, name := range names {
		q := domain.OutcomeQuote{Name: name, TokenID: tokens[i]}
		if i < len(prices) {
			q.LastPrice = domain.ParsePrice(prices[i])
		}
		m.Outcomes[i] = q
	}

	switch {
	case !gm.Closed:
		m.Status = domain.MarketOpen
	case winnerOf(m) != "":
		m.Status = domain.MarketSettled
		m.WinningOutcome = winnerOf(m)
	default:
		m.Status = domain.MarketResolving
	}
	return m, nil
}

// winnerOf devuelve el único outcome con precio ~1, o "".
func winnerOf(m domain.Market) string {
	winner := ""
	for _, q := range m.Outcomes {
		if q.LastPrice >= winnerPrice {
			if winner != "" {
				return ""
			}
			winner = q.Name
		}
	}
	return winner
}

// parseJSONStrings decodifica un array JSON embebido en un string:
// `["Yes","No"]`. Un string vacío devuelve nil.
func parseJSONStrings(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("%q: %w", s, domain.ErrMalformed)
	}
	return out, nil
}

func parseEndDate(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		// Polymarket usa varios formatos; intentamos los más comunes
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// parseTradeTimestamp acepta unix en segundos o milisegundos, o ISO 8601.
func parseTradeTimestamp(n json.Number) time.Time {
	s := n.String()
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec > 1e12 {
			return time.UnixMilli(sec).UTC()
		}
		return time.Unix(sec, 0).UTC()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = domain.OrderBook{
			TokenID: r.AssetID,
			Bids:    mapBookEntries(r.Bids, false),
			Asks:    mapBookEntries(r.Asks, true),
		}
	}
	return result
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price := domain.ParsePrice(r.Price)
		size := domain.ParsePrice(r.Size)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})
	return entries
}
