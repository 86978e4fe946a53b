package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polycopy/config"
	"github.com/alejandrodnm/polycopy/internal/adapters/httpclient"
	"github.com/alejandrodnm/polycopy/internal/adapters/polymarket"
	"github.com/alejandrodnm/polycopy/internal/application/activity"
	"github.com/alejandrodnm/polycopy/internal/application/execution"
	"github.com/alejandrodnm/polycopy/internal/application/ledger"
	"github.com/alejandrodnm/polycopy/internal/application/runtime"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

const wallet = "0x1111111111111111111111111111111111111111"

// --- Fakes ---

type fakePoller struct {
	poll  func(ctx context.Context) ([]domain.DetectedTrade, error)
	calls atomic.Int32
}

func (p *fakePoller) Poll(ctx context.Context, _ string) ([]domain.DetectedTrade, error) {
	p.calls.Add(1)
	if p.poll == nil {
		return nil, nil
	}
	return p.poll(ctx)
}

func (p *fakePoller) Reset() {}

type fakeMarkets struct {
	mu         sync.Mutex
	markets    map[string]domain.Market
	candidates func(ctx context.Context) ([]domain.Market, error)
}

func (f *fakeMarkets) FetchMarket(_ context.Context, id string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarkets) FetchMarkets(ctx context.Context, ids []string) ([]domain.Market, error) {
	var out []domain.Market
	for _, id := range ids {
		if m, err := f.FetchMarket(ctx, id); err == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMarkets) FetchResolutionCandidates(ctx context.Context, _ int) ([]domain.Market, error) {
	if f.candidates == nil {
		return nil, nil
	}
	return f.candidates(ctx)
}

type fakeAggregator struct {
	mu      sync.Mutex
	verdict func(m domain.Market) domain.Verdict
	cache   map[string]domain.Verdict
	forgot  []string
	evals   atomic.Int32
}

func (a *fakeAggregator) EvaluateAll(_ context.Context, ms []domain.Market, _ float64) []domain.Verdict {
	a.evals.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache == nil {
		a.cache = make(map[string]domain.Verdict)
	}
	out := make([]domain.Verdict, len(ms))
	for i, m := range ms {
		out[i] = domain.Verdict{MarketID: m.ID}
		if a.verdict != nil {
			out[i] = a.verdict(m)
		}
		a.cache[m.ID] = out[i]
	}
	return out
}

func (a *fakeAggregator) Current(id string) (domain.Verdict, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.cache[id]
	return v, ok
}

func (a *fakeAggregator) Forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forgot = append(a.forgot, id)
	delete(a.cache, id)
}

func (a *fakeAggregator) forgotten(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range a.forgot {
		if f == id {
			return true
		}
	}
	return false
}

type fakeExecutor struct {
	mode   domain.ExecutionMode
	submit func(ctx context.Context, o domain.OrderRequest) (domain.Fill, error)
}

func (e *fakeExecutor) Submit(ctx context.Context, o domain.OrderRequest) (domain.Fill, error) {
	return e.submit(ctx, o)
}

func (e *fakeExecutor) Mode() domain.ExecutionMode { return e.mode }

type fakeWallet struct {
	mu      sync.Mutex
	balance float64
	err     error
}

func (w *fakeWallet) GetBalance(context.Context) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance, w.err
}

func (w *fakeWallet) set(b float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance = b
}

type fakePositions map[string]domain.TargetExposure

func (f fakePositions) FetchWalletExposure(_ context.Context, _, marketID string) (domain.TargetExposure, error) {
	return f[marketID], nil
}

type busRecorder struct {
	mu  sync.Mutex
	evs []domain.Event
}

func (b *busRecorder) Publish(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evs = append(b.evs, ev)
}

func (b *busRecorder) ofType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, ev := range b.evs {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	rt      *runtime.Runtime
	poller  *fakePoller
	markets *fakeMarkets
	agg     *fakeAggregator
	ledger  *ledger.Ledger
	bus     *busRecorder
	store   *config.SettingsStore
}

func newHarness(t *testing.T, opts runtime.Options, wire ...func(*runtime.Deps)) *harness {
	t.Helper()
	s := config.DefaultSettings()
	s.TargetWallet = wallet
	h := &harness{
		poller:  &fakePoller{},
		markets: &fakeMarkets{markets: map[string]domain.Market{}},
		agg:     &fakeAggregator{},
		ledger:  ledger.New(1000),
		bus:     &busRecorder{},
		store:   config.NewSettingsStore(s),
	}
	if opts.OracleInterval == 0 {
		opts.OracleInterval = time.Hour
	}
	if opts.SettleInterval == 0 {
		opts.SettleInterval = time.Hour
	}
	deps := runtime.Deps{
		Settings:   h.store,
		Poller:     h.poller,
		Markets:    h.markets,
		Aggregator: h.agg,
		Ledger:     h.ledger,
		Paper:      execution.NewPaper(h.ledger, execution.SlippageModel{Kind: "none"}),
		Bus:        h.bus,
	}
	for _, w := range wire {
		w(&deps)
	}
	h.rt = runtime.New(deps, opts)
	t.Cleanup(func() { h.rt.Kill() })
	return h
}

func (h *harness) setDryRun(t *testing.T, on bool) {
	t.Helper()
	_, err := h.store.Update(config.SettingsPatch{DryRun: &on})
	require.NoError(t, err)
}

func withLive(exec execution.Executor, w runtime.Wallet) func(*runtime.Deps) {
	return func(d *runtime.Deps) {
		d.Live = exec
		d.Wallet = w
	}
}

func yesNo(id string, bidYes, askYes float64) domain.Market {
	return domain.Market{
		ID:     id,
		Title:  "Market " + id,
		Status: domain.MarketOpen,
		Outcomes: []domain.OutcomeQuote{
			{Name: "Yes", TokenID: id + "-yes", BestBid: bidYes, BestAsk: askYes},
			{Name: "No", TokenID: id + "-no", BestBid: 1 - askYes, BestAsk: 1 - bidYes},
		},
	}
}

func targetBuy(id, market string, price, size float64) domain.DetectedTrade {
	return domain.DetectedTrade{
		ID: id, Wallet: wallet, MarketID: market, Title: "Market " + market,
		Outcome: "Yes", TokenID: market + "-yes", Side: domain.Buy,
		Price: price, Size: size, Timestamp: time.Now(),
	}
}

// --- Lifecycle ---

func TestStart_AlreadyRunning(t *testing.T) {
	h := newHarness(t, runtime.Options{})

	id, err := h.rt.Start(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, domain.StateRunning, h.rt.Status().State)

	_, err = h.rt.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	states := h.bus.ofType(domain.EventState)
	require.Len(t, states, 1)
	assert.Equal(t, domain.StateRunning, states[0].(domain.StateEvent).State)
}

func TestStart_RequiresTargetWallet(t *testing.T) {
	h := newHarness(t, runtime.Options{})
	empty := ""
	_, err := h.store.Update(config.SettingsPatch{TargetWallet: &empty})
	require.NoError(t, err)

	_, err = h.rt.Start(context.Background())
	assert.ErrorIs(t, err, runtime.ErrNoTarget)
	assert.Equal(t, domain.StateStopped, h.rt.Status().State)
}

func TestStart_LiveWithoutExecutor(t *testing.T) {
	h := newHarness(t, runtime.Options{})
	off := false
	_, err := h.store.Update(config.SettingsPatch{DryRun: &off})
	require.NoError(t, err)

	_, err = h.rt.Start(context.Background())
	assert.ErrorIs(t, err, runtime.ErrLiveUnavailable)
}

func TestStart_LiveFundsLedgerFromWallet(t *testing.T) {
	w := &fakeWallet{balance: 250}
	live := &fakeExecutor{mode: domain.ModeLive}
	h := newHarness(t, runtime.Options{PaperBalance: 1000}, withLive(live, w))
	_, err := h.ledger.Apply(domain.Fill{
		MarketID: "p1", Outcome: "Yes", Side: domain.Buy, Price: 0.5, Quantity: 10, FilledAt: time.Now(),
	})
	require.NoError(t, err)
	h.setDryRun(t, false)

	_, err = h.rt.Start(context.Background())
	require.NoError(t, err)
	snap := h.ledger.Snapshot()
	assert.Empty(t, snap.Positions, "paper positions do not leak into live")
	assert.InDelta(t, 250, snap.Cash, 1e-9)
	assert.InDelta(t, 250, snap.InitialBalance, 1e-9)
	require.True(t, h.rt.Kill())

	// A second live session keeps its positions and syncs cash only.
	_, _, err = h.ledger.ApplyMatched(domain.Fill{
		MarketID: "l1", Outcome: "Yes", Side: domain.Buy, Price: 0.5, Quantity: 100, FilledAt: time.Now(),
	})
	require.NoError(t, err)
	w.set(180)
	_, err = h.rt.Start(context.Background())
	require.NoError(t, err)
	snap = h.ledger.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "l1", snap.Positions[0].Key.MarketID)
	assert.InDelta(t, 180, snap.Cash, 1e-9)
	assert.InDelta(t, 0, snap.ConservationGap(), 1e-9)
	require.True(t, h.rt.Kill())

	h.setDryRun(t, true)
	_, err = h.rt.Start(context.Background())
	require.NoError(t, err)
	snap = h.ledger.Snapshot()
	assert.Empty(t, snap.Positions, "live positions do not leak into paper")
	assert.InDelta(t, 1000, snap.Cash, 1e-9)
}

func TestStart_LiveBalanceError(t *testing.T) {
	w := &fakeWallet{err: fmt.Errorf("rpc: %w", domain.ErrTransient)}
	h := newHarness(t, runtime.Options{}, withLive(&fakeExecutor{mode: domain.ModeLive}, w))
	h.setDryRun(t, false)

	_, err := h.rt.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, domain.StateStopped, h.rt.Status().State)
	assert.InDelta(t, 1000, h.ledger.Cash(), 1e-9, "ledger untouched")
}

func TestStop_CopiesThenEmitsSummary(t *testing.T) {
	h := newHarness(t, runtime.Options{})
	h.markets.markets["m1"] = yesNo("m1", 0.44, 0.46)
	var once sync.Once
	h.poller.poll = func(context.Context) ([]domain.DetectedTrade, error) {
		var out []domain.DetectedTrade
		once.Do(func() { out = []domain.DetectedTrade{targetBuy("t1", "m1", 0.45, 20)} })
		return out, nil
	}

	_, err := h.rt.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.bus.ofType(domain.EventTrade)) == 1 }, time.Second, 5*time.Millisecond)

	summary, ok := h.rt.Stop(context.Background(), "user")
	require.True(t, ok)
	assert.Equal(t, domain.StateStopped, h.rt.Status().State)
	assert.Equal(t, 1, summary.Stats.TradesDetected)
	assert.Equal(t, 1, summary.Stats.TradesCopied)
	assert.Equal(t, "user", summary.StopCause)
	assert.Equal(t, domain.ModePaper, summary.Mode)
	assert.InDelta(t, 1000-0.46*20, summary.Portfolio.Cash, 1e-9)

	ev := h.bus.ofType(domain.EventTrade)[0].(domain.TradeEvent)
	assert.True(t, ev.Copied())
	assert.InDelta(t, 0.46, ev.FillPrice, 1e-9)
	assert.InDelta(t, 20, ev.FillQuantity, 1e-9)

	require.Len(t, h.bus.ofType(domain.EventSessionComplete), 1)
	states := h.bus.ofType(domain.EventState)
	assert.Equal(t, domain.StateStopped, states[len(states)-1].(domain.StateEvent).State)

	last, ok := h.rt.LastSession()
	require.True(t, ok)
	assert.Equal(t, summary.SessionID, last.SessionID)

	_, ok = h.rt.Stop(context.Background(), "again")
	assert.False(t, ok, "stop is idempotent")
	assert.Len(t, h.bus.ofType(domain.EventSessionComplete), 1)
}

func TestStop_LetsInFlightCycleFinish(t *testing.T) {
	h := newHarness(t, runtime.Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	h.poller.poll = func(context.Context) ([]domain.DetectedTrade, error) {
		close(started)
		<-release
		return nil, nil
	}

	_, err := h.rt.Start(context.Background())
	require.NoError(t, err)
	<-started

	stopped := make(chan domain.SessionSummary)
	go func() {
		s, _ := h.rt.Stop(context.Background(), "")
		stopped <- s
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned before the in-flight poll finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	s := <-stopped
	assert.Equal(t, 1, s.Stats.PollCount)
	assert.Zero(t, s.Stats.PollErrors)
}

// Kill during a blocked poll: in-flight calls are cancelled, the state is
// STOPPED and no session summary is produced.
func TestKill_MidPoll(t *testing.T) {
	h := newHarness(t, runtime.Options{})
	started := make(chan struct{})
	h.poller.poll = func(ctx context.Context) ([]domain.DetectedTrade, error) {
		close(started)
		<-ctx.Done()
		return nil, fmt.Errorf("poll: %w", ctx.Err())
	}

	_, err := h.rt.Start(context.Background())
	require.NoError(t, err)
	<-started

	require.True(t, h.rt.Kill())
	assert.Equal(t, domain.StateStopped, h.rt.Status().State)
	assert.Empty(t, h.bus.ofType(domain.EventSessionComplete))

	states := h.bus.ofType(domain.EventState)
	last := states[len(states)-1].(domain.StateEvent)
	assert.Equal(t, domain.StateStopped, last.State)
	assert.True(t, last.Killed)

	assert.False(t, h.rt.Kill(), "kill is idempotent")
	_, ok := h.rt.Stop(context.Background(), "")
	assert.False(t, ok)
	_, ok = h.rt.LastSession()
	assert.False(t, ok)
}

// Kill while a live order is pending: the cancelled submission books
// nothing and no trade or summary is published.
func TestKill_PendingFill(t *testing.T) {
	submitted := make(chan struct{})
	live := &fakeExecutor{
		mode: domain.ModeLive,
		submit: func(ctx context.Context, _ domain.OrderRequest) (domain.Fill, error) {
			close(submitted)
			<-ctx.Done()
			return domain.Fill{}, fmt.Errorf("submit: %w", ctx.Err())
		},
	}
	h := newHarness(t, runtime.Options{}, withLive(live, &fakeWallet{balance: 1000}))
	h.markets.markets["m1"] = yesNo("m1", 0.44, 0.46)
	var once sync.Once
	h.poller.poll = func(context.Context) ([]domain.DetectedTrade, error) {
		var out []domain.DetectedTrade
		once.Do(func() { out = []domain.DetectedTrade{targetBuy("t1", "m1", 0.45, 20)} })
		return out, nil
	}
	h.setDryRun(t, false)

	_, err := h.rt.Start(context.Background())
	require.NoError(t, err)
	<-submitted
	before := h.ledger.Snapshot()

	require.True(t, h.rt.Kill())

	assert.Empty(t, h.bus.ofType(domain.EventTrade))
	assert.Empty(t, h.bus.ofType(domain.EventSessionComplete))
	after := h.ledger.Snapshot()
	assert.Equal(t, before.Cash, after.Cash)
	assert.Empty(t, after.Positions)
	_, ok := h.rt.LastSession()
	assert.False(t, ok)
}

func TestKill_ThenStartAgain(t *testing.T) {
	h := newHarness(t, runtime.Options{})
	first, err := h.rt.Start(context.Background())
	require.NoError(t, err)
	require.True(t, h.rt.Kill())

	second, err := h.rt.Start(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestFatalErrorStopsSession(t *testing.T) {
	live := &fakeExecutor{
		mode: domain.ModeLive,
		submit: func(context.Context, domain.OrderRequest) (domain.Fill, error) {
			return domain.Fill{}, &domain.ExecutionError{
				Reason: domain.ReasonExecutionFailed,
				Err:    fmt.Errorf("place order: 401: %w", domain.ErrUnauthorized),
			}
		},
	}
	h := newHarness(t, runtime.Options{}, withLive(live, &fakeWallet{balance: 1000}))
	h.markets.markets["m1"] = yesNo("m1", 0.44, 0.46)
	var once sync.Once
	h.poller.poll = func(context.Context) ([]domain.DetectedTrade, error) {
		var out []domain.DetectedTrade
		once.Do(func() { out = []domain.DetectedTrade{targetBuy("t1", "m1", 0.45, 20)} })
		return out, nil
	}
	h.setDryRun(t, false)

	_, err := h.rt.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.rt.Status().State == domain.StateStopped }, time.Second, 5*time.Millisecond)
	last, ok := h.rt.LastSession()
	require.True(t, ok)
	assert.Contains(t, last.StopCause, "unauthorized")
	assert.Equal(t, 1, last.Stats.TradesSkipped)

	trades := h.bus.ofType(domain.EventTrade)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ReasonExecutionFailed, trades[0].(domain.TradeEvent).Reason)
}

// A 403 from the public activity feed is a read failure, not a credential
// problem: the session keeps running.
func TestForbiddenActivityKeepsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("cloudflare says no"))
	}))
	defer srv.Close()

	h := newHarness(t, runtime.Options{})
	client := polymarket.NewClient(polymarket.Endpoints{Data: srv.URL},
		httpclient.WithRetries(0), httpclient.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	poller := activity.New(client, activity.Config{PageSize: 50, MaxPages: 1}, nil)
	h.poller.poll = func(ctx context.Context) ([]domain.DetectedTrade, error) {
		return poller.Poll(ctx, wallet)
	}

	_, err := h.rt.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.rt.Status().Stats.PollErrors >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, domain.StateRunning, h.rt.Status().State)
	_, ok := h.rt.LastSession()
	assert.False(t, ok)
}

func TestTransientErrorKeepsRunning(t *testing.T) {
	h := newHarness(t, runtime.Options{})
	h.poller.poll = func(context.Context) ([]domain.DetectedTrade, error) {
		return nil, fmt.Errorf("activity: %w", domain.ErrTransient)
	}

	_, err := h.rt.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.poller.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	st := h.rt.Status()
	assert.Equal(t, domain.StateRunning, st.State)
	assert.Equal(t, 1, st.Stats.PollErrors)
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	h := newHarness(t, runtime.Options{ResolutionEnabled: true, OracleInterval: 5 * time.Millisecond})
	release := make(chan struct{})
	var calls atomic.Int32
	h.markets.candidates = func(ctx context.Context) ([]domain.Market, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}

	_, err := h.rt.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.rt.Status().Stats.TicksSkipped >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "no second cycle while the first is running")
	close(release)
}

func TestCopy_MinoritySideSkippedWithTargetPositions(t *testing.T) {
	positions := fakePositions{"m1": {MarketID: "m1", Shares: map[string]float64{"Yes": 10, "No": 90}}}
	h := newHarness(t, runtime.Options{}, func(d *runtime.Deps) { d.Positions = positions })
	dom := 0.55
	_, err := h.store.Update(config.SettingsPatch{DominantSideMin: &dom})
	require.NoError(t, err)
	h.markets.markets["m1"] = yesNo("m1", 0.44, 0.46)
	var once sync.Once
	h.poller.poll = func(context.Context) ([]domain.DetectedTrade, error) {
		var out []domain.DetectedTrade
		once.Do(func() { out = []domain.DetectedTrade{targetBuy("t1", "m1", 0.45, 20)} })
		return out, nil
	}

	_, err = h.rt.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.bus.ofType(domain.EventTrade)) == 1 }, time.Second, 5*time.Millisecond)

	ev := h.bus.ofType(domain.EventTrade)[0].(domain.TradeEvent)
	assert.Equal(t, domain.VerdictSkip, ev.Verdict)
	assert.Equal(t, domain.ReasonMinoritySide, ev.Reason)
	assert.Empty(t, h.ledger.Snapshot().Positions)
}

// --- Resolution ---

func TestOracleEntry_BuysResolvedWinnerOnce(t *testing.T) {
	h := newHarness(t, runtime.Options{ResolutionEnabled: true, OracleInterval: 5 * time.Millisecond})
	m := yesNo("r1", 0.94, 0.95)
	h.markets.markets["r1"] = m
	h.markets.candidates = func(context.Context) ([]domain.Market, error) {
		return []domain.Market{m}, nil
	}
	h.agg.verdict = func(m domain.Market) domain.Verdict {
		return domain.Verdict{MarketID: m.ID, State: domain.EffectivelyResolved, WinningOutcome: "Yes", Confidence: 0.99}
	}

	_, err := h.rt.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.rt.Status().Stats.PollCount > 0 && len(h.bus.ofType(domain.EventTrade)) >= 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	trades := h.bus.ofType(domain.EventTrade)
	require.Len(t, trades, 2, "one entry, then the cap skip reported once")
	entry := trades[0].(domain.TradeEvent)
	assert.True(t, entry.Copied())
	assert.Equal(t, domain.SourceResolution, entry.Source)
	assert.InDelta(t, 0.95, entry.FillPrice, 1e-9)
	skip := trades[1].(domain.TradeEvent)
	assert.Equal(t, domain.ReasonPositionCap, skip.Reason)

	assert.Equal(t, 1, h.rt.Status().Stats.ResolutionEntries)
	assert.InDelta(t, 50, h.ledger.Snapshot().MarketCost("r1"), 0.01)
}

func TestSettlement_ClosesPositionsAndForgets(t *testing.T) {
	h := newHarness(t, runtime.Options{
		SettleInterval:    5 * time.Millisecond,
		ResolutionEnabled: true,
		OracleInterval:    5 * time.Millisecond,
	})
	_, err := h.ledger.Apply(domain.Fill{
		MarketID: "s1", Outcome: "Yes", TokenID: "s1-yes", Side: domain.Buy,
		Price: 0.98, Quantity: 100, FilledAt: time.Now(),
	})
	require.NoError(t, err)
	h.markets.markets["s1"] = yesNo("s1", 0.99, 0.999)
	h.agg.verdict = func(m domain.Market) domain.Verdict {
		return domain.Verdict{MarketID: m.ID, State: domain.OfficiallyResolved, WinningOutcome: "Yes", Confidence: 1}
	}

	_, err = h.rt.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.bus.ofType(domain.EventPositionResolved)) == 1 }, time.Second, 5*time.Millisecond)

	ev := h.bus.ofType(domain.EventPositionResolved)[0].(domain.PositionResolvedEvent)
	assert.Equal(t, "Yes", ev.WinningOutcome)
	assert.InDelta(t, 100, ev.Payout, 1e-9)
	assert.InDelta(t, 2, ev.RealizedPnL, 1e-9)

	snap := h.ledger.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.InDelta(t, 1002, snap.Cash, 1e-9)
	assert.InDelta(t, 0, snap.ConservationGap(), 1e-9)

	require.Eventually(t, func() bool { return h.agg.forgotten("s1") }, time.Second, 5*time.Millisecond,
		"the oracle task forgets what the settle task closed")
	assert.Equal(t, 1, h.rt.Status().Stats.Settlements)
}

// Without the oracle task the settle task still closes markets the
// platform settled, and never evaluates sources itself.
func TestSettlement_PlatformSettledWithoutOracleTask(t *testing.T) {
	h := newHarness(t, runtime.Options{SettleInterval: 5 * time.Millisecond})
	_, err := h.ledger.Apply(domain.Fill{
		MarketID: "s1", Outcome: "No", Side: domain.Buy, Price: 0.40, Quantity: 10, FilledAt: time.Now(),
	})
	require.NoError(t, err)
	m := yesNo("s1", 0.99, 0.999)
	m.Status = domain.MarketSettled
	m.WinningOutcome = "Yes"
	h.markets.markets["s1"] = m

	_, err = h.rt.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.bus.ofType(domain.EventPositionResolved)) == 1 }, time.Second, 5*time.Millisecond)

	ev := h.bus.ofType(domain.EventPositionResolved)[0].(domain.PositionResolvedEvent)
	assert.Equal(t, "Yes", ev.WinningOutcome)
	assert.Zero(t, ev.Payout)
	assert.InDelta(t, -4, ev.RealizedPnL, 1e-9)
	assert.Zero(t, h.agg.evals.Load(), "only the oracle task queries the aggregator")
}

func TestSettlement_WaitsForOfficialVerdict(t *testing.T) {
	h := newHarness(t, runtime.Options{
		SettleInterval:    5 * time.Millisecond,
		ResolutionEnabled: true,
		OracleInterval:    5 * time.Millisecond,
	})
	_, err := h.ledger.Apply(domain.Fill{
		MarketID: "s1", Outcome: "Yes", Side: domain.Buy, Price: 0.5, Quantity: 10, FilledAt: time.Now(),
	})
	require.NoError(t, err)
	h.markets.markets["s1"] = yesNo("s1", 0.97, 0.98)
	h.agg.verdict = func(m domain.Market) domain.Verdict {
		return domain.Verdict{MarketID: m.ID, State: domain.EffectivelyResolved, WinningOutcome: "Yes", Confidence: 0.99}
	}

	_, err = h.rt.Start(context.Background())
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)

	assert.Empty(t, h.bus.ofType(domain.EventPositionResolved))
	pos, ok := h.ledger.Snapshot().Position(domain.PositionKey{MarketID: "s1", Outcome: "Yes"})
	require.True(t, ok)
	assert.InDelta(t, 0.975, pos.MarkPrice, 1e-9, "marks refreshed from the book midpoint")
}

// --- Settings ---

func TestUpdateSettings_SessionFieldsLockedWhileRunning(t *testing.T) {
	h := newHarness(t, runtime.Options{})
	_, err := h.rt.Start(context.Background())
	require.NoError(t, err)

	other := "0x2222222222222222222222222222222222222222"
	_, err = h.rt.UpdateSettings(config.SettingsPatch{TargetWallet: &other})
	assert.ErrorIs(t, err, runtime.ErrSessionSettings)

	same := wallet
	_, err = h.rt.UpdateSettings(config.SettingsPatch{TargetWallet: &same})
	assert.NoError(t, err, "resending the current value is not a change")

	slip := 0.05
	s, err := h.rt.UpdateSettings(config.SettingsPatch{MaxSlippage: &slip})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, s.MaxSlippage, 1e-9)

	h.rt.Kill()
	_, err = h.rt.UpdateSettings(config.SettingsPatch{TargetWallet: &other})
	assert.NoError(t, err)
}

func TestUpdateSettings_InvalidPatch(t *testing.T) {
	h := newHarness(t, runtime.Options{})
	bad := 2.0
	_, err := h.rt.UpdateSettings(config.SettingsPatch{MaxPrice: &bad})
	require.Error(t, err)
	assert.False(t, errors.Is(err, runtime.ErrSessionSettings))
	assert.InDelta(t, 0.80, h.store.Get().MaxPrice, 1e-9)
}
