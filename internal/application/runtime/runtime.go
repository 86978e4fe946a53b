// Package runtime owns the bot lifecycle: it drives the wallet, oracle and
// settlement cycles of one session at a time and publishes what happens.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polycopy/config"
	"github.com/alejandrodnm/polycopy/internal/application/execution"
	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/observability"
	"github.com/alejandrodnm/polycopy/internal/ports"
)

var (
	// ErrSessionSettings is returned when a settings patch would change the
	// target wallet or the execution mode of a running session.
	ErrSessionSettings = errors.New("target_wallet and dry_run cannot change while running")
	// ErrNoTarget is returned by Start when no target wallet is configured.
	ErrNoTarget = errors.New("target_wallet is not set")
	// ErrLiveUnavailable is returned by Start in live mode without credentials.
	ErrLiveUnavailable = errors.New("live execution is not configured")
)

// Poller surfaces new trades of the target wallet.
type Poller interface {
	Poll(ctx context.Context, wallet string) ([]domain.DetectedTrade, error)
	Reset()
}

// Aggregator judges market resolution. Only the oracle task evaluates and
// forgets; the settle task reads the cached verdicts.
type Aggregator interface {
	EvaluateAll(ctx context.Context, markets []domain.Market, threshold float64) []domain.Verdict
	Current(marketID string) (domain.Verdict, bool)
	Forget(marketID string)
}

// Ledger is the portfolio the runtime reads, funds and settles.
type Ledger interface {
	Snapshot() domain.PortfolioState
	Settle(marketID, winningOutcome string) ([]domain.Settlement, error)
	UpdateMark(key domain.PositionKey, price float64)
	Reset(initialBalance float64)
	AdjustCash(amount float64) error
}

// Wallet reports the real balance live sessions are funded from.
type Wallet interface {
	GetBalance(ctx context.Context) (float64, error)
}

// Publisher receives every runtime event.
type Publisher interface {
	Publish(ev domain.Event)
}

// Options are the fixed task parameters.
type Options struct {
	OracleInterval    time.Duration
	SettleInterval    time.Duration
	ResolutionEnabled bool
	CandidateLimit    int
	AutoRedeem        bool
	// PaperBalance funds the ledger when a paper session follows a live one.
	PaperBalance float64
}

// Deps wires the runtime. Positions, Live, Wallet and Redeemer may be nil.
type Deps struct {
	Settings   *config.SettingsStore
	Poller     Poller
	Markets    ports.MarketProvider
	Positions  ports.PositionProvider
	Aggregator Aggregator
	Ledger     Ledger
	Paper      execution.Executor
	Live       execution.Executor
	Wallet     Wallet
	Redeemer   ports.Redeemer
	Bus        Publisher
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Status is the public view of the runtime.
type Status struct {
	State        domain.RuntimeState  `json:"state"`
	SessionID    string               `json:"session_id,omitempty"`
	Mode         domain.ExecutionMode `json:"mode,omitempty"`
	TargetWallet string               `json:"target_wallet,omitempty"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	Uptime       string               `json:"uptime,omitempty"`
	Stats        domain.SessionStats  `json:"stats"`
}

// Runtime is the bot state machine. All methods are safe for concurrent use.
type Runtime struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state domain.RuntimeState
	run   *run
	last  *domain.SessionSummary
	// funded is the mode whose balance the ledger currently holds.
	funded domain.ExecutionMode
}

// New creates a stopped runtime.
func New(deps Deps, opts Options) *Runtime {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.OracleInterval <= 0 {
		opts.OracleInterval = 30 * time.Second
	}
	if opts.SettleInterval <= 0 {
		opts.SettleInterval = time.Minute
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 100
	}
	return &Runtime{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger,
		now:    time.Now,
		state:  domain.StateStopped,
		funded: domain.ModePaper,
	}
}

// Start begins a new session. It returns domain.ErrAlreadyRunning if a
// session is active. The session runs detached from ctx; ctx only bounds
// the startup checks.
func (r *Runtime) Start(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != nil {
		return "", domain.ErrAlreadyRunning
	}

	s := r.deps.Settings.Get()
	if s.TargetWallet == "" {
		return "", fmt.Errorf("runtime.Start: %w", ErrNoTarget)
	}
	exec := r.deps.Paper
	if !s.DryRun {
		if r.deps.Live == nil || r.deps.Wallet == nil {
			return "", fmt.Errorf("runtime.Start: %w", ErrLiveUnavailable)
		}
		exec = r.deps.Live
		if r.deps.Redeemer != nil {
			if err := r.deps.Redeemer.EnsureApprovals(ctx); err != nil {
				return "", fmt.Errorf("runtime.Start: approvals: %w", err)
			}
		}
	}
	if err := r.fund(ctx, exec.Mode()); err != nil {
		return "", fmt.Errorf("runtime.Start: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rn := &run{
		ctx:    runCtx,
		cancel: cancel,
		stop:   make(chan struct{}),
		exec:   exec,
		stats:  newStats(),
		skips:  make(map[string]domain.SkipReason),
		session: domain.SessionSummary{
			SessionID:    uuid.New().String(),
			Mode:         exec.Mode(),
			TargetWallet: s.TargetWallet,
			StartedAt:    r.now(),
		},
	}
	r.deps.Poller.Reset()
	r.run = rn
	r.state = domain.StateRunning

	rn.wg.Add(2)
	go r.loop(rn, "wallet", func() time.Duration { return r.deps.Settings.Get().PollInterval() }, r.walletCycle)
	go r.loop(rn, "settle", func() time.Duration { return r.opts.SettleInterval }, r.settleCycle)
	if r.opts.ResolutionEnabled {
		rn.wg.Add(1)
		go r.loop(rn, "oracle", func() time.Duration { return r.opts.OracleInterval }, r.oracleCycle)
	}

	r.deps.Metrics.SetRunning(true)
	r.logger.Info("runtime: session started",
		"session", rn.session.SessionID, "mode", rn.session.Mode, "wallet", s.TargetWallet)
	r.publish(domain.StateEvent{State: domain.StateRunning, SessionID: rn.session.SessionID})
	return rn.session.SessionID, nil
}

// fund prepares the ledger for a session in mode. Live sessions mirror the
// wallet: the first one after paper trading starts from an empty ledger
// holding the wallet balance, later ones keep their positions and only sync
// cash. A paper session after a live one starts over from PaperBalance.
// Must be called with r.mu held and no session running.
func (r *Runtime) fund(ctx context.Context, mode domain.ExecutionMode) error {
	if mode == domain.ModePaper {
		if r.funded == domain.ModeLive {
			r.deps.Ledger.Reset(r.opts.PaperBalance)
			r.logger.Info("runtime: ledger reset for paper trading", "balance", r.opts.PaperBalance)
		}
		r.funded = mode
		return nil
	}

	bal, err := r.deps.Wallet.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("wallet balance: %w", err)
	}
	if r.funded != domain.ModeLive {
		r.deps.Ledger.Reset(bal)
		r.logger.Info("runtime: ledger funded from wallet", "balance", bal)
	} else if diff := bal - r.deps.Ledger.Snapshot().Cash; diff != 0 {
		if err := r.deps.Ledger.AdjustCash(diff); err != nil {
			return fmt.Errorf("sync wallet balance: %w", err)
		}
		r.logger.Info("runtime: ledger cash synced with wallet", "balance", bal, "delta", diff)
	}
	r.funded = mode
	return nil
}

// Stop ends the session gracefully: no new cycles start, in-flight cycles
// finish, then the summary is emitted. If ctx expires first the in-flight
// calls are cancelled. ok is false when nothing was running.
func (r *Runtime) Stop(ctx context.Context, cause string) (summary domain.SessionSummary, ok bool) {
	r.mu.Lock()
	rn := r.run
	if rn == nil || rn.ending {
		r.mu.Unlock()
		return domain.SessionSummary{}, false
	}
	rn.ending = true
	r.mu.Unlock()

	close(rn.stop)
	done := make(chan struct{})
	go func() {
		rn.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("runtime: stop deadline reached, cancelling in-flight calls")
		rn.cancel()
		<-done
	}
	rn.cancel()

	r.mu.Lock()
	if rn.killed {
		r.mu.Unlock()
		return domain.SessionSummary{}, false
	}
	summary = rn.finish(r.now(), cause, r.deps.Ledger.Snapshot())
	r.run = nil
	r.state = domain.StateStopped
	r.last = &summary
	r.mu.Unlock()

	r.deps.Metrics.SetRunning(false)
	r.logger.Info("runtime: session stopped",
		"session", summary.SessionID, "runtime", summary.Runtime, "cause", cause,
		"copied", summary.Stats.TradesCopied, "skipped", summary.Stats.TradesSkipped)
	r.publish(domain.SessionCompleteEvent{Summary: summary})
	r.publish(domain.StateEvent{State: domain.StateStopped, SessionID: summary.SessionID, Cause: cause})
	return summary, true
}

// Kill cancels every in-flight call, waits for the tasks to exit and
// stops without a session summary. It returns false if nothing was running.
func (r *Runtime) Kill() bool {
	r.mu.Lock()
	rn := r.run
	if rn == nil || rn.killed {
		r.mu.Unlock()
		return false
	}
	rn.killed = true
	wasEnding := rn.ending
	rn.ending = true
	r.mu.Unlock()

	rn.cancel()
	if !wasEnding {
		close(rn.stop)
	}
	rn.wg.Wait()

	r.mu.Lock()
	if r.run == rn {
		r.run = nil
		r.state = domain.StateStopped
	}
	r.mu.Unlock()

	r.deps.Metrics.SetRunning(false)
	r.logger.Warn("runtime: session killed", "session", rn.session.SessionID)
	r.publish(domain.StateEvent{State: domain.StateStopped, SessionID: rn.session.SessionID, Killed: true, Cause: "killed"})
	return true
}

// Status returns the current state and, while running, the live session stats.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{State: r.state}
	if r.run == nil {
		return st
	}
	started := r.run.session.StartedAt
	st.SessionID = r.run.session.SessionID
	st.Mode = r.run.session.Mode
	st.TargetWallet = r.run.session.TargetWallet
	st.StartedAt = &started
	st.Uptime = r.now().Sub(started).Round(time.Second).String()
	st.Stats = r.run.stats.snapshot()
	return st
}

// LastSession returns the summary of the most recent stopped session.
func (r *Runtime) LastSession() (domain.SessionSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return domain.SessionSummary{}, false
	}
	return *r.last, true
}

// UpdateSettings applies a patch. While running, patches that change the
// target wallet or the execution mode are rejected; other fields apply
// from the next cycle on.
func (r *Runtime) UpdateSettings(p config.SettingsPatch) (config.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.deps.Settings.Get()
	if r.run != nil && sessionChanged(cur, p) {
		return cur, ErrSessionSettings
	}
	next, err := r.deps.Settings.Update(p)
	if err != nil {
		return cur, fmt.Errorf("runtime.UpdateSettings: %w", err)
	}
	r.logger.Info("runtime: settings updated")
	return next, nil
}

func sessionChanged(cur config.Settings, p config.SettingsPatch) bool {
	if !p.TouchesSession() {
		return false
	}
	next := p.Apply(cur)
	return next.TargetWallet != cur.TargetWallet || next.DryRun != cur.DryRun
}

func (r *Runtime) publish(ev domain.Event) {
	if r.deps.Bus != nil {
		r.deps.Bus.Publish(ev)
	}
}
