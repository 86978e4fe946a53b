// Package ledger tracks cash, positions and PnL for one bot session.
//
// Cost convention: weighted-average cost. A BUY adds its cost (fees included)
// to the position's cost basis; a SELL releases cost basis pro rata to the
// quantity sold and realizes the difference against the proceeds. With that
// convention every consistent snapshot satisfies
//
//	cash + Σ cost_basis − realized_pnl == initial_balance + net_external_flows
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// ErrNoPosition is returned when a SELL or settlement finds nothing held.
var ErrNoPosition = errors.New("no position held")

type entry struct {
	tokenID   string
	title     string
	qty       decimal.Decimal
	cost      decimal.Decimal
	realized  decimal.Decimal
	openedAt  time.Time
	updatedAt time.Time
}

// Ledger is the single writer of portfolio state. Mutations take the write
// lock; snapshots share the read lock.
type Ledger struct {
	mu        sync.RWMutex
	initial   decimal.Decimal
	flows     decimal.Decimal
	cash      decimal.Decimal
	realized  decimal.Decimal
	positions map[domain.PositionKey]*entry
	marks     map[domain.PositionKey]float64
	now       func() time.Time
}

// New creates a ledger funded with initialBalance.
func New(initialBalance float64) *Ledger {
	start := decimal.NewFromFloat(initialBalance)
	return &Ledger{
		initial:   start,
		cash:      start,
		positions: make(map[domain.PositionKey]*entry),
		marks:     make(map[domain.PositionKey]float64),
		now:       time.Now,
	}
}

// Reset empties the ledger and funds it with initialBalance. Used when a
// session starts against a different balance source.
func (l *Ledger) Reset(initialBalance float64) {
	start := decimal.NewFromFloat(initialBalance)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initial = start
	l.cash = start
	l.flows = decimal.Zero
	l.realized = decimal.Zero
	l.positions = make(map[domain.PositionKey]*entry)
	l.marks = make(map[domain.PositionKey]float64)
}

// Apply books a fill. BUY fails with domain.ErrInsufficientBalance when the
// cost exceeds cash; SELL is clamped to the held quantity and fails with
// ErrNoPosition when nothing is held. On error nothing is mutated. The
// returned fill carries the quantity actually booked.
func (l *Ledger) Apply(f domain.Fill) (domain.Fill, error) {
	booked, _, err := l.apply(f, false)
	if err != nil {
		return f, fmt.Errorf("ledger.Apply: %w", err)
	}
	return booked, nil
}

// ApplyMatched books a fill the venue already executed. A BUY costing more
// than the tracked cash is still booked: the missing amount is recorded as
// an external inflow and returned, since the wallet evidently held it.
func (l *Ledger) ApplyMatched(f domain.Fill) (domain.Fill, float64, error) {
	booked, inflow, err := l.apply(f, true)
	if err != nil {
		return f, 0, fmt.Errorf("ledger.ApplyMatched: %w", err)
	}
	return booked, inflow.InexactFloat64(), nil
}

func (l *Ledger) apply(f domain.Fill, reconcile bool) (domain.Fill, decimal.Decimal, error) {
	inflow := decimal.Zero
	if f.Quantity <= 0 || f.Price <= 0 || f.Price > 1 {
		return f, inflow, fmt.Errorf("price %.4f qty %.4f: %w", f.Price, f.Quantity, domain.ErrMalformed)
	}
	price := decimal.NewFromFloat(f.Price)
	qty := decimal.NewFromFloat(f.Quantity)
	fee := decimal.NewFromFloat(f.Fee)
	key := f.Key()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	switch f.Side {
	case domain.Buy:
		total := price.Mul(qty).Add(fee)
		if total.GreaterThan(l.cash) {
			if !reconcile {
				return f, inflow, fmt.Errorf("need $%s, have $%s: %w",
					total.StringFixed(2), l.cash.StringFixed(2), domain.ErrInsufficientBalance)
			}
			inflow = total.Sub(l.cash)
			l.cash = l.cash.Add(inflow)
			l.flows = l.flows.Add(inflow)
		}
		e, ok := l.positions[key]
		if !ok {
			e = &entry{tokenID: f.TokenID, title: f.Title, openedAt: now}
			l.positions[key] = e
		}
		l.cash = l.cash.Sub(total)
		e.qty = e.qty.Add(qty)
		e.cost = e.cost.Add(total)
		e.updatedAt = now

	case domain.Sell:
		e, ok := l.positions[key]
		if !ok || !e.qty.IsPositive() {
			return f, inflow, fmt.Errorf("sell %s/%s: %w", f.MarketID, f.Outcome, ErrNoPosition)
		}
		if qty.GreaterThan(e.qty) {
			qty = e.qty
			f.Quantity = qty.InexactFloat64()
		}
		proceeds := price.Mul(qty).Sub(fee)
		released := e.cost
		if qty.LessThan(e.qty) {
			released = e.cost.Mul(qty).Div(e.qty)
		}
		pnl := proceeds.Sub(released)

		l.cash = l.cash.Add(proceeds)
		l.realized = l.realized.Add(pnl)
		e.realized = e.realized.Add(pnl)
		e.qty = e.qty.Sub(qty)
		e.cost = e.cost.Sub(released)
		e.updatedAt = now
		if !e.qty.IsPositive() {
			delete(l.positions, key)
			delete(l.marks, key)
		}

	default:
		return f, inflow, fmt.Errorf("side %q: %w", f.Side, domain.ErrMalformed)
	}
	if f.FilledAt.IsZero() {
		f.FilledAt = now
	}
	return f, inflow, nil
}

// Settle closes every position of a settled market: $1 per share of the
// winning outcome, $0 otherwise. Returns ErrNoPosition when the market has no
// open positions.
func (l *Ledger) Settle(marketID, winningOutcome string) ([]domain.Settlement, error) {
	if winningOutcome == "" {
		return nil, fmt.Errorf("ledger.Settle: %s: empty winning outcome: %w", marketID, domain.ErrMalformed)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var out []domain.Settlement
	for key, e := range l.positions {
		if key.MarketID != marketID {
			continue
		}
		won := strings.EqualFold(key.Outcome, winningOutcome)
		payout := decimal.Zero
		if won {
			payout = e.qty
		}
		pnl := payout.Sub(e.cost)
		l.cash = l.cash.Add(payout)
		l.realized = l.realized.Add(pnl)

		out = append(out, domain.Settlement{
			Key:         key,
			Title:       e.title,
			TokenID:     e.tokenID,
			Quantity:    e.qty.InexactFloat64(),
			CostBasis:   e.cost.InexactFloat64(),
			Payout:      payout.InexactFloat64(),
			RealizedPnL: pnl.InexactFloat64(),
			Won:         won,
			SettledAt:   now,
		})
		delete(l.positions, key)
		delete(l.marks, key)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ledger.Settle: %s: %w", marketID, ErrNoPosition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Outcome < out[j].Key.Outcome })
	return out, nil
}

// UpdateMark records the current price of a held outcome. Marks for keys
// not held are ignored.
func (l *Ledger) UpdateMark(key domain.PositionKey, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[key]; ok {
		l.marks[key] = price
	}
}

// AdjustCash records an external deposit (positive) or withdrawal (negative).
func (l *Ledger) AdjustCash(amount float64) error {
	d := decimal.NewFromFloat(amount)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cash.Add(d).IsNegative() {
		return fmt.Errorf("ledger.AdjustCash: withdraw $%.2f: %w", -amount, domain.ErrInsufficientBalance)
	}
	l.cash = l.cash.Add(d)
	l.flows = l.flows.Add(d)
	return nil
}

// Cash returns the available balance.
func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash.InexactFloat64()
}

// Held returns the quantity held for key.
func (l *Ledger) Held(key domain.PositionKey) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.positions[key]; ok {
		return e.qty.InexactFloat64()
	}
	return 0
}

// Snapshot returns a consistent copy of the portfolio. Unrealized PnL is
// computed here from the latest marks; positions without a mark are valued
// at their average price.
func (l *Ledger) Snapshot() domain.PortfolioState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := domain.PortfolioState{
		InitialBalance:   l.initial.InexactFloat64(),
		NetExternalFlows: l.flows.InexactFloat64(),
		Cash:             l.cash.InexactFloat64(),
		RealizedPnL:      l.realized.InexactFloat64(),
		TakenAt:          l.now(),
	}
	equity := l.cash
	unrealized := decimal.Zero
	for key, e := range l.positions {
		avg := e.cost.Div(e.qty)
		mark := avg
		if m, ok := l.marks[key]; ok {
			mark = decimal.NewFromFloat(m)
		}
		value := mark.Mul(e.qty)
		upnl := value.Sub(e.cost)
		equity = equity.Add(value)
		unrealized = unrealized.Add(upnl)

		st.Positions = append(st.Positions, domain.PositionView{
			Position: domain.Position{
				Key:         key,
				TokenID:     e.tokenID,
				Title:       e.title,
				Quantity:    e.qty.InexactFloat64(),
				AvgPrice:    avg.InexactFloat64(),
				CostBasis:   e.cost.InexactFloat64(),
				RealizedPnL: e.realized.InexactFloat64(),
				OpenedAt:    e.openedAt,
				UpdatedAt:   e.updatedAt,
			},
			MarkPrice:     mark.InexactFloat64(),
			MarketValue:   value.InexactFloat64(),
			UnrealizedPnL: upnl.InexactFloat64(),
		})
	}
	sort.Slice(st.Positions, func(i, j int) bool {
		a, b := st.Positions[i].Key, st.Positions[j].Key
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		return a.Outcome < b.Outcome
	})
	st.UnrealizedPnL = unrealized.InexactFloat64()
	st.Equity = equity.InexactFloat64()
	return st
}
