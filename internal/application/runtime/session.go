package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/polycopy/internal/application/execution"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

// run is the state of one session. ending and killed are guarded by
// Runtime.mu; skips is only touched by the oracle task. settled carries the
// markets the settle task closed to the oracle task, which owns the
// aggregator cache and forgets them.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	stop    chan struct{}
	wg      sync.WaitGroup
	exec    execution.Executor
	stats   *stats
	session domain.SessionSummary
	skips   map[string]domain.SkipReason

	settledMu sync.Mutex
	settled   []string

	ending bool
	killed bool
}

func (rn *run) finish(end time.Time, cause string, pf domain.PortfolioState) domain.SessionSummary {
	s := rn.session
	s.EndedAt = end
	s.Runtime = end.Sub(s.StartedAt).Round(time.Second).String()
	s.StopCause = cause
	s.Stats = rn.stats.snapshot()
	s.Portfolio = pf
	return s
}

func (rn *run) markSettled(marketID string) {
	rn.settledMu.Lock()
	defer rn.settledMu.Unlock()
	rn.settled = append(rn.settled, marketID)
}

func (rn *run) drainSettled() []string {
	rn.settledMu.Lock()
	defer rn.settledMu.Unlock()
	ids := rn.settled
	rn.settled = nil
	return ids
}

type stats struct {
	mu sync.Mutex
	s  domain.SessionStats
}

func newStats() *stats {
	return &stats{s: domain.SessionStats{SkipReasons: make(map[domain.SkipReason]int)}}
}

func (st *stats) update(fn func(s *domain.SessionStats)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
}

func (st *stats) record(ev domain.TradeEvent) {
	st.update(func(s *domain.SessionStats) {
		if ev.Copied() {
			s.TradesCopied++
			if ev.Source == domain.SourceResolution {
				s.ResolutionEntries++
			}
			return
		}
		s.TradesSkipped++
		s.SkipReasons[ev.Reason]++
	})
}

func (st *stats) snapshot() domain.SessionStats {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Clone()
}
