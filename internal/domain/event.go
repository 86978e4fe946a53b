package domain

import "time"

// EventType tags every message on the event stream.
type EventType string

const (
	EventLog              EventType = "log"
	EventState            EventType = "state"
	EventStatus           EventType = "status"
	EventTrade            EventType = "trade"
	EventSessionComplete  EventType = "session_complete"
	EventPositionResolved EventType = "position_resolved"
)

// Event is one fixed-shape record on the stream.
type Event interface {
	Type() EventType
}

// LogEvent mirrors a log line.
type LogEvent struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (LogEvent) Type() EventType { return EventLog }

// StateEvent reports a runtime transition.
type StateEvent struct {
	State     RuntimeState `json:"state"`
	SessionID string       `json:"session_id,omitempty"`
	Killed    bool         `json:"killed,omitempty"`
	Cause     string       `json:"cause,omitempty"`
}

func (StateEvent) Type() EventType { return EventState }

// StatusEvent carries periodic stats and a full portfolio snapshot.
type StatusEvent struct {
	State     RuntimeState   `json:"state"`
	SessionID string         `json:"session_id,omitempty"`
	Stats     SessionStats   `json:"stats"`
	Portfolio PortfolioState `json:"portfolio"`
}

func (StatusEvent) Type() EventType { return EventStatus }

// TradeEvent is the outcome of one copy or entry attempt.
type TradeEvent struct {
	TradeID      string        `json:"trade_id,omitempty"`
	MarketID     string        `json:"market_id"`
	Title        string        `json:"title"`
	Outcome      string        `json:"outcome"`
	Side         Side          `json:"side"`
	TargetPrice  float64       `json:"target_price"`
	TargetSize   float64       `json:"target_size"`
	Verdict      CopyVerdict   `json:"verdict"`
	Reason       SkipReason    `json:"reason,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	FillPrice    float64       `json:"fill_price,omitempty"`
	FillQuantity float64       `json:"fill_quantity,omitempty"`
	Mode         ExecutionMode `json:"mode"`
	Source       OrderSource   `json:"source"`
	Timestamp    time.Time     `json:"timestamp"`
}

func (TradeEvent) Type() EventType { return EventTrade }

// Copied reports whether the attempt resulted in a fill.
func (e TradeEvent) Copied() bool { return e.Verdict == VerdictCopy }

// SessionCompleteEvent carries the finalized session summary.
type SessionCompleteEvent struct {
	Summary SessionSummary `json:"summary"`
}

func (SessionCompleteEvent) Type() EventType { return EventSessionComplete }

// PositionResolvedEvent reports a settled position and its realized PnL delta.
type PositionResolvedEvent struct {
	MarketID       string    `json:"market_id"`
	Title          string    `json:"title"`
	Outcome        string    `json:"outcome"`
	WinningOutcome string    `json:"winning_outcome"`
	Quantity       float64   `json:"quantity"`
	Payout         float64   `json:"payout"`
	RealizedPnL    float64   `json:"realized_pnl"`
	Timestamp      time.Time `json:"timestamp"`
}

func (PositionResolvedEvent) Type() EventType { return EventPositionResolved }
