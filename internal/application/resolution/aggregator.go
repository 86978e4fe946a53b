// Package resolution combines independent oracle sources into one
// resolution verdict per market.
package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/ports"
)

// Config controls source timeouts and cross-market parallelism.
type Config struct {
	SourceTimeout time.Duration
	Workers       int
	// Observe, if set, is called after every source query.
	Observe func(source string, elapsed time.Duration, failed bool)
}

// Aggregator queries every source that can handle a market and keeps the
// per-market verdict cache. The cache is only touched through its methods.
type Aggregator struct {
	sources []ports.OracleSource
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]domain.Verdict
}

// New creates an Aggregator over a fixed list of sources.
func New(cfg Config, logger *slog.Logger, sources ...ports.OracleSource) *Aggregator {
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 8 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		sources: sources,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]domain.Verdict),
	}
}

// Evaluate queries the sources for one market, combines their results and
// merges the outcome into the monotone cache. The returned verdict is the
// cached one.
func (a *Aggregator) Evaluate(ctx context.Context, m domain.Market, threshold float64) domain.Verdict {
	results := a.collect(ctx, m)
	computed := Combine(m.ID, results, threshold)
	computed.UpdatedAt = a.now()
	return a.merge(computed)
}

// EvaluateAll evaluates many markets with bounded parallelism. Verdicts are
// returned in the order of markets.
func (a *Aggregator) EvaluateAll(ctx context.Context, markets []domain.Market, threshold float64) []domain.Verdict {
	out := make([]domain.Verdict, len(markets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for i, m := range markets {
		g.Go(func() error {
			out[i] = a.Evaluate(gctx, m, threshold)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Current returns the cached verdict for a market.
func (a *Aggregator) Current(marketID string) (domain.Verdict, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.cache[marketID]
	return v, ok
}

// Forget drops a settled market from the cache.
func (a *Aggregator) Forget(marketID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, marketID)
}

func (a *Aggregator) collect(ctx context.Context, m domain.Market) []domain.OracleResult {
	var handlers []ports.OracleSource
	for _, s := range a.sources {
		if s.CanHandle(m) {
			handlers = append(handlers, s)
		}
	}
	results := make([]domain.OracleResult, len(handlers))
	var wg sync.WaitGroup
	for i, src := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = a.query(ctx, src, m)
		}()
	}
	wg.Wait()
	return results
}

// query runs one source under its own timeout. A source that does not
// return in time, or fails, counts as UNKNOWN.
func (a *Aggregator) query(ctx context.Context, src ports.OracleSource, m domain.Market) domain.OracleResult {
	qctx, cancel := context.WithTimeout(ctx, a.cfg.SourceTimeout)
	defer cancel()

	type reply struct {
		r   domain.OracleResult
		err error
	}
	ch := make(chan reply, 1)
	start := time.Now()
	go func() {
		r, err := src.CheckResolution(qctx, m)
		ch <- reply{r, err}
	}()

	var r domain.OracleResult
	select {
	case <-qctx.Done():
		a.observe(src.ID(), start, true)
		a.logger.Warn("oracle source timed out", "source", src.ID(), "market", m.ID)
		return domain.UnknownResult(src.ID(), m.ID, "timeout: "+qctx.Err().Error())
	case rep := <-ch:
		a.observe(src.ID(), start, rep.err != nil)
		if rep.err != nil {
			a.logger.Warn("oracle source failed", "source", src.ID(), "market", m.ID, "err", rep.err)
			return domain.UnknownResult(src.ID(), m.ID, "error: "+rep.err.Error())
		}
		r = rep.r
	}

	r.SourceID = src.ID()
	r.MarketID = m.ID
	r.Confidence = clamp01(r.Confidence)
	r.Authoritative = isAuthoritative(src)
	if !r.Authoritative {
		r.Dispute = false
	}
	return r
}

func (a *Aggregator) observe(source string, start time.Time, failed bool) {
	if a.cfg.Observe != nil {
		a.cfg.Observe(source, time.Since(start), failed)
	}
}

func (a *Aggregator) merge(computed domain.Verdict) domain.Verdict {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, ok := a.cache[computed.MarketID]
	switch {
	case computed.Disputed:
		if ok && prev.State > domain.Unknown {
			a.logger.Warn("resolution disputed, state reset",
				"market", computed.MarketID, "was", prev.State.String())
		}
		a.cache[computed.MarketID] = computed
		return computed
	case !ok || computed.State > prev.State:
		a.cache[computed.MarketID] = computed
		return computed
	}

	if computed.WinningOutcome != "" && prev.WinningOutcome != "" &&
		!strings.EqualFold(computed.WinningOutcome, prev.WinningOutcome) {
		a.logger.Warn("oracle winner conflicts with cached verdict",
			"market", computed.MarketID,
			"cached", prev.WinningOutcome, "new", computed.WinningOutcome)
	}
	kept := prev
	kept.Sources = computed.Sources
	kept.UpdatedAt = computed.UpdatedAt
	a.cache[computed.MarketID] = kept
	return kept
}

// Combine applies the aggregation rule to one poll's results:
//   - an authoritative dispute resets to UNKNOWN;
//   - an authoritative OFFICIALLY_RESOLVED result with a winner decides;
//   - disagreement on the winner caps the state at LIKELY;
//   - otherwise the state is the minimum over results meeting threshold.
func Combine(marketID string, results []domain.OracleResult, threshold float64) domain.Verdict {
	v := domain.Verdict{MarketID: marketID, State: domain.Unknown, Sources: results}

	for _, r := range results {
		if r.Dispute && r.Authoritative {
			v.Disputed = true
			return v
		}
	}
	for _, r := range results {
		if r.Authoritative && r.State == domain.OfficiallyResolved && r.WinningOutcome != "" {
			v.State = domain.OfficiallyResolved
			v.WinningOutcome = r.WinningOutcome
			v.Confidence = r.Confidence
			return v
		}
	}

	winners := make(map[string]bool)
	for _, r := range results {
		if r.State > domain.Unknown && r.WinningOutcome != "" {
			winners[strings.ToLower(r.WinningOutcome)] = true
		}
	}

	var qualifying []domain.OracleResult
	for _, r := range results {
		if r.State > domain.Unknown && r.WinningOutcome != "" && r.Confidence >= threshold {
			qualifying = append(qualifying, r)
		}
	}
	if len(qualifying) == 0 {
		v.Disagreement = len(winners) > 1
		return v
	}

	state := domain.OfficiallyResolved
	conf := 1.0
	for _, r := range qualifying {
		state = domain.MinState(state, r.State)
		if r.Confidence < conf {
			conf = r.Confidence
		}
	}

	if len(winners) > 1 {
		v.Disagreement = true
		v.State = domain.MinState(state, domain.Likely)
		return v
	}

	v.State = state
	v.WinningOutcome = qualifying[0].WinningOutcome
	v.Confidence = conf
	return v
}

func isAuthoritative(src ports.OracleSource) bool {
	as, ok := src.(ports.AuthoritativeSource)
	return ok && as.Authoritative()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Describe renders a verdict for logs.
func Describe(v domain.Verdict) string {
	if v.WinningOutcome == "" {
		return v.State.String()
	}
	return fmt.Sprintf("%s → %s (%.2f)", v.State, v.WinningOutcome, v.Confidence)
}
