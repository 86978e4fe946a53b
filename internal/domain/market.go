package domain

import (
	"strings"
	"time"
)

// MarketStatus es el estado de ciclo de vida de un mercado.
type MarketStatus string

const (
	MarketOpen      MarketStatus = "OPEN"
	MarketResolving MarketStatus = "RESOLVING"
	MarketSettled   MarketStatus = "SETTLED"
)

// Market representa un mercado de predicción en Polymarket (binario o categórico).
type Market struct {
	ID             string // condition id
	Title          string
	Slug           string
	Outcomes       []OutcomeQuote
	Status         MarketStatus
	EndDate        time.Time
	NegRisk        bool
	WinningOutcome string // sólo lo rellena la plataforma al liquidar
	UMAStatus      string // "proposed" | "disputed" | "resolved" | ""
	UpdatedAt      time.Time
}

// OutcomeQuote es el estado de cotización de un outcome del mercado.
type OutcomeQuote struct {
	Name      string
	TokenID   string
	BestBid   float64
	BestAsk   float64
	LastPrice float64 // outcomePrices de Gamma
}

// Quote devuelve la cotización del outcome con ese nombre (case-insensitive).
func (m Market) Quote(outcome string) (OutcomeQuote, bool) {
	for _, q := range m.Outcomes {
		if strings.EqualFold(q.Name, outcome) {
			return q, true
		}
	}
	return OutcomeQuote{}, false
}

// QuoteByToken devuelve la cotización del outcome con ese token id.
func (m Market) QuoteByToken(tokenID string) (OutcomeQuote, bool) {
	for _, q := range m.Outcomes {
		if q.TokenID == tokenID {
			return q, true
		}
	}
	return OutcomeQuote{}, false
}

// Leader devuelve el outcome con mayor precio. ok=false si no hay precios.
func (m Market) Leader() (OutcomeQuote, bool) {
	var best OutcomeQuote
	found := false
	for _, q := range m.Outcomes {
		p := q.Mark()
		if p <= 0 {
			continue
		}
		if !found || p > best.Mark() {
			best = q
			found = true
		}
	}
	return best, found
}

// PastEnd devuelve true si la fecha de fin del mercado ya pasó.
func (m Market) PastEnd(now time.Time) bool {
	return !m.EndDate.IsZero() && now.After(m.EndDate)
}

// Mark devuelve el precio usado para valorar una posición: midpoint si hay
// book a ambos lados, si no el último precio conocido.
func (q OutcomeQuote) Mark() float64 {
	if q.BestBid > 0 && q.BestAsk > 0 {
		return (q.BestBid + q.BestAsk) / 2
	}
	if q.LastPrice > 0 {
		return q.LastPrice
	}
	if q.BestBid > 0 {
		return q.BestBid
	}
	return q.BestAsk
}

// TruncateTitle devuelve el título truncado a maxLen caracteres.
// Si está vacío usa los primeros caracteres del id como fallback.
func TruncateTitle(title, id string, maxLen int) string {
	t := title
	if t == "" {
		if len(id) > 20 {
			t = id[:20] + "..."
		} else {
			t = id
		}
	}
	if len(t) > maxLen {
		t = t[:maxLen-3] + "..."
	}
	return t
}
