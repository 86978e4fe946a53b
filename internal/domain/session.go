package domain

import "time"

// RuntimeState is the bot lifecycle state.
type RuntimeState string

const (
	StateStopped RuntimeState = "STOPPED"
	StateRunning RuntimeState = "RUNNING"
)

// SessionStats are the cumulative counters of one session.
type SessionStats struct {
	TradesDetected    int                `json:"trades_detected"`
	TradesCopied      int                `json:"trades_copied"`
	TradesSkipped     int                `json:"trades_skipped"`
	PollCount         int                `json:"poll_count"`
	PollErrors        int                `json:"poll_errors"`
	ResolutionEntries int                `json:"resolution_entries"`
	Settlements       int                `json:"settlements"`
	TicksSkipped      int                `json:"ticks_skipped"`
	SkipReasons       map[SkipReason]int `json:"skip_reasons"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s SessionStats) Clone() SessionStats {
	out := s
	out.SkipReasons = make(map[SkipReason]int, len(s.SkipReasons))
	for k, v := range s.SkipReasons {
		out.SkipReasons[k] = v
	}
	return out
}

// SessionSummary is the finalized record of a stopped session.
type SessionSummary struct {
	SessionID    string         `json:"session_id"`
	Mode         ExecutionMode  `json:"mode"`
	TargetWallet string         `json:"target_wallet"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      time.Time      `json:"ended_at"`
	Runtime      string         `json:"runtime"`
	Stats        SessionStats   `json:"stats"`
	StopCause    string         `json:"stop_cause,omitempty"`
	Portfolio    PortfolioState `json:"portfolio"`
}
