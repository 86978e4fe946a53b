package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/polycopy/config"
	"github.com/alejandrodnm/polycopy/internal/application/decision"
	"github.com/alejandrodnm/polycopy/internal/application/ledger"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

type cycleFunc func(ctx context.Context, rn *run) error

// loop runs cycle once at start and then on every tick until the session
// stops. A tick that arrives while the previous cycle is still running is
// skipped and counted.
func (r *Runtime) loop(rn *run, task string, every func() time.Duration, cycle cycleFunc) {
	defer rn.wg.Done()

	var inFlight atomic.Bool
	var cycles sync.WaitGroup
	defer cycles.Wait()

	fire := func() {
		if !inFlight.CompareAndSwap(false, true) {
			rn.stats.update(func(s *domain.SessionStats) { s.TicksSkipped++ })
			r.deps.Metrics.RecordTickSkipped(task)
			r.logger.Debug("runtime: tick skipped, previous cycle still running", "task", task)
			return
		}
		cycles.Add(1)
		go func() {
			defer cycles.Done()
			defer inFlight.Store(false)
			if err := cycle(rn.ctx, rn); err != nil {
				r.cycleFailed(rn, task, err)
			}
		}()
	}

	interval := every()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fire()
	for {
		select {
		case <-rn.stop:
			return
		case <-rn.ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-rn.stop:
				return
			default:
			}
			fire()
			if d := every(); d > 0 && d != interval {
				interval = d
				ticker.Reset(d)
			}
		}
	}
}

func (r *Runtime) cycleFailed(rn *run, task string, err error) {
	if rn.ctx.Err() != nil {
		return
	}
	if domain.IsFatal(err) {
		r.logger.Error("runtime: fatal error, stopping", "task", task, "err", err)
		go r.Stop(context.Background(), err.Error())
		return
	}
	r.logger.Warn("runtime: cycle failed", "task", task, "err", err)
}

// --- Wallet task ---

func (r *Runtime) walletCycle(ctx context.Context, rn *run) error {
	s := r.deps.Settings.Get()

	start := time.Now()
	trades, err := r.deps.Poller.Poll(ctx, rn.session.TargetWallet)
	r.deps.Metrics.RecordPoll(time.Since(start), err)
	rn.stats.update(func(st *domain.SessionStats) {
		st.PollCount++
		if err != nil {
			st.PollErrors++
		}
	})
	if err != nil {
		return fmt.Errorf("runtime.walletCycle: %w", err)
	}

	if len(trades) > 0 {
		rn.stats.update(func(st *domain.SessionStats) { st.TradesDetected += len(trades) })
		r.deps.Metrics.RecordTradesDetected(len(trades))
		r.logger.Info("runtime: new target trades", "count", len(trades))
	}
	for _, t := range trades {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.copyTrade(ctx, rn, s, t); err != nil {
			return err
		}
	}
	r.publishStatus(rn)
	return nil
}

func (r *Runtime) copyTrade(ctx context.Context, rn *run, s config.Settings, t domain.DetectedTrade) error {
	ev := domain.TradeEvent{
		TradeID:     t.ID,
		MarketID:    t.MarketID,
		Title:       t.Title,
		Outcome:     t.Outcome,
		Side:        t.Side,
		TargetPrice: t.Price,
		TargetSize:  t.Size,
		Mode:        rn.exec.Mode(),
		Source:      domain.SourceCopy,
	}

	m, err := r.deps.Markets.FetchMarket(ctx, t.MarketID)
	var dec domain.CopyDecision
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		dec = domain.Skip(domain.ReasonMarketUnavailable, err.Error())
	} else {
		r.refreshMarks(m)
		if ev.Title == "" {
			ev.Title = m.Title
		}
		exp := r.targetExposure(ctx, s, rn.session.TargetWallet, t)
		dec = decision.EvaluateWithExposure(t, exp, r.deps.Ledger.Snapshot(), m, s)
	}
	return r.execute(ctx, rn, dec, ev)
}

// targetExposure reads the target's holdings in the trade's market when the
// dominant-side policy needs them. A failed read lets the trade through.
func (r *Runtime) targetExposure(ctx context.Context, s config.Settings, wallet string, t domain.DetectedTrade) domain.TargetExposure {
	if s.DominantSideMin <= 0 || t.Side != domain.Buy || r.deps.Positions == nil {
		return domain.TargetExposure{}
	}
	exp, err := r.deps.Positions.FetchWalletExposure(ctx, wallet, t.MarketID)
	if err != nil {
		r.logger.Warn("runtime: target positions unavailable", "market", t.MarketID, "err", err)
		return domain.TargetExposure{}
	}
	return exp
}

// execute submits a COPY decision and publishes the outcome. A result that
// comes back after the session was killed is dropped.
func (r *Runtime) execute(ctx context.Context, rn *run, dec domain.CopyDecision, ev domain.TradeEvent) error {
	var fatal error
	ev.Verdict, ev.Reason, ev.Detail = dec.Verdict, dec.Reason, dec.Detail
	if dec.IsCopy() {
		fill, err := rn.exec.Submit(ctx, dec.Order)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			ev.Verdict = domain.VerdictSkip
			ev.Reason = domain.ReasonExecutionFailed
			var execErr *domain.ExecutionError
			if errors.As(err, &execErr) {
				ev.Reason = execErr.Reason
			}
			ev.Detail = err.Error()
			if domain.IsFatal(err) {
				fatal = fmt.Errorf("runtime.execute: %w", err)
			}
		} else {
			ev.FillPrice = fill.Price
			ev.FillQuantity = fill.Quantity
		}
	}
	ev.Timestamp = r.now()

	rn.stats.record(ev)
	r.deps.Metrics.RecordDecision(ev)
	if ev.Copied() {
		r.logger.Info("runtime: order filled",
			"source", ev.Source, "market", domain.TruncateTitle(ev.Title, ev.MarketID, 50), "outcome", ev.Outcome,
			"side", ev.Side, "price", ev.FillPrice, "qty", ev.FillQuantity)
	} else {
		r.logger.Info("runtime: trade skipped",
			"source", ev.Source, "market", domain.TruncateTitle(ev.Title, ev.MarketID, 50),
			"reason", ev.Reason, "detail", ev.Detail)
	}
	r.publish(ev)
	return fatal
}

// --- Oracle task ---

// oracleCycle scans markets past their end date plus the markets held, and
// buys the winning outcome of those the aggregator judges resolved.
func (r *Runtime) oracleCycle(ctx context.Context, rn *run) error {
	s := r.deps.Settings.Get()
	for _, id := range rn.drainSettled() {
		r.deps.Aggregator.Forget(id)
	}

	candidates, err := r.deps.Markets.FetchResolutionCandidates(ctx, r.opts.CandidateLimit)
	if err != nil {
		return fmt.Errorf("runtime.oracleCycle: candidates: %w", err)
	}
	markets := r.withHeld(ctx, candidates)
	if len(markets) == 0 {
		return nil
	}

	verdicts := r.deps.Aggregator.EvaluateAll(ctx, markets, s.ConfidenceThreshold)
	for i, v := range verdicts {
		if ctx.Err() != nil {
			return nil
		}
		m := markets[i]
		r.refreshMarks(m)
		r.deps.Metrics.RecordVerdict(v.State)
		if !v.AuthorizesEntry(s.ConfidenceThreshold) {
			continue
		}

		dec := decision.EvaluateEntry(v, r.deps.Ledger.Snapshot(), m, s)
		if !dec.IsCopy() {
			// The same skip would repeat every cycle; report it once per market.
			if rn.skips[m.ID] == dec.Reason {
				continue
			}
			rn.skips[m.ID] = dec.Reason
		} else {
			delete(rn.skips, m.ID)
		}

		ev := domain.TradeEvent{
			MarketID: m.ID,
			Title:    m.Title,
			Outcome:  v.WinningOutcome,
			Side:     domain.Buy,
			Mode:     rn.exec.Mode(),
			Source:   domain.SourceResolution,
		}
		if q, ok := m.Quote(v.WinningOutcome); ok {
			ev.TargetPrice = q.BestAsk
		}
		if dec.IsCopy() {
			ev.TargetSize = dec.Order.Size
		}
		if err := r.execute(ctx, rn, dec, ev); err != nil {
			return err
		}
	}
	r.publishStatus(rn)
	return nil
}

// withHeld appends the held markets missing from ms.
func (r *Runtime) withHeld(ctx context.Context, ms []domain.Market) []domain.Market {
	seen := make(map[string]bool, len(ms))
	for _, m := range ms {
		seen[m.ID] = true
	}
	var missing []string
	for _, id := range r.deps.Ledger.Snapshot().MarketIDs() {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return ms
	}
	held, err := r.deps.Markets.FetchMarkets(ctx, missing)
	if err != nil {
		r.logger.Warn("runtime: fetch held markets failed", "count", len(missing), "err", err)
		return ms
	}
	return append(ms, held...)
}

// --- Settlement task ---

// settleCycle closes held positions of officially resolved markets. The
// verdict comes from the oracle task's cache, or from the platform itself
// when the market is already settled there.
func (r *Runtime) settleCycle(ctx context.Context, rn *run) error {
	ids := r.deps.Ledger.Snapshot().MarketIDs()
	if len(ids) == 0 {
		r.publishStatus(rn)
		return nil
	}
	markets, err := r.deps.Markets.FetchMarkets(ctx, ids)
	if err != nil {
		return fmt.Errorf("runtime.settleCycle: fetch markets: %w", err)
	}

	for _, m := range markets {
		if ctx.Err() != nil {
			return nil
		}
		r.refreshMarks(m)
		if winner, ok := r.officialWinner(m); ok {
			r.settle(ctx, rn, m, winner)
		}
	}
	r.publishStatus(rn)
	return nil
}

func (r *Runtime) officialWinner(m domain.Market) (string, bool) {
	if v, ok := r.deps.Aggregator.Current(m.ID); ok && v.AuthorizesSettlement() {
		return v.WinningOutcome, true
	}
	if m.Status == domain.MarketSettled && m.WinningOutcome != "" {
		return m.WinningOutcome, true
	}
	return "", false
}

func (r *Runtime) settle(ctx context.Context, rn *run, m domain.Market, winner string) {
	settled, err := r.deps.Ledger.Settle(m.ID, winner)
	if errors.Is(err, ledger.ErrNoPosition) {
		rn.markSettled(m.ID)
		return
	}
	if err != nil {
		r.logger.Error("runtime: settlement failed", "market", m.ID, "err", err)
		return
	}

	won := false
	for _, st := range settled {
		won = won || st.Won
		r.logger.Info("runtime: position settled",
			"market", domain.TruncateTitle(st.Title, m.ID, 50), "outcome", st.Key.Outcome,
			"winner", winner, "payout", st.Payout, "pnl", st.RealizedPnL)
		r.publish(domain.PositionResolvedEvent{
			MarketID:       m.ID,
			Title:          st.Title,
			Outcome:        st.Key.Outcome,
			WinningOutcome: winner,
			Quantity:       st.Quantity,
			Payout:         st.Payout,
			RealizedPnL:    st.RealizedPnL,
			Timestamp:      st.SettledAt,
		})
	}
	rn.stats.update(func(s *domain.SessionStats) { s.Settlements += len(settled) })
	r.deps.Metrics.RecordSettlements(len(settled))
	rn.markSettled(m.ID)

	if won && rn.exec.Mode() == domain.ModeLive && r.opts.AutoRedeem && r.deps.Redeemer != nil {
		res, err := r.deps.Redeemer.Redeem(ctx, m.ID, m.NegRisk)
		if err != nil {
			r.logger.Error("runtime: redeem failed", "market", m.ID, "err", err)
			return
		}
		r.logger.Info("runtime: redeemed winning position", "market", m.ID, "tx", res.TxHash)
	}
}

// --- Helpers ---

func (r *Runtime) refreshMarks(m domain.Market) {
	for _, q := range m.Outcomes {
		if p := q.Mark(); p > 0 {
			r.deps.Ledger.UpdateMark(domain.PositionKey{MarketID: m.ID, Outcome: q.Name}, p)
		}
	}
}

func (r *Runtime) publishStatus(rn *run) {
	pf := r.deps.Ledger.Snapshot()
	r.deps.Metrics.RecordPortfolio(pf)
	r.publish(domain.StatusEvent{
		State:     domain.StateRunning,
		SessionID: rn.session.SessionID,
		Stats:     rn.stats.snapshot(),
		Portfolio: pf,
	})
}
