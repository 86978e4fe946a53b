package domain

import (
	"fmt"
	"time"
)

// ResolutionState is a point on the per-market resolution lattice.
// The numeric order is the lattice order.
type ResolutionState int

const (
	Unknown ResolutionState = iota
	Likely
	EffectivelyResolved
	OfficiallyResolved
)

var resolutionNames = [...]string{"UNKNOWN", "LIKELY", "EFFECTIVELY_RESOLVED", "OFFICIALLY_RESOLVED"}

func (s ResolutionState) String() string {
	if s < Unknown || s > OfficiallyResolved {
		return fmt.Sprintf("ResolutionState(%d)", int(s))
	}
	return resolutionNames[s]
}

// MarshalText encodes the state by name.
func (s ResolutionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *ResolutionState) UnmarshalText(b []byte) error {
	for i, n := range resolutionNames {
		if n == string(b) {
			*s = ResolutionState(i)
			return nil
		}
	}
	return fmt.Errorf("domain: unknown resolution state %q", string(b))
}

// MinState returns the lower of two states.
func MinState(a, b ResolutionState) ResolutionState {
	if a < b {
		return a
	}
	return b
}

// OracleResult is one source's judgment for one market.
type OracleResult struct {
	SourceID       string          `json:"source_id"`
	MarketID       string          `json:"market_id"`
	State          ResolutionState `json:"state"`
	WinningOutcome string          `json:"winning_outcome,omitempty"`
	Confidence     float64         `json:"confidence"`
	Justification  string          `json:"justification"`
	Dispute        bool            `json:"dispute,omitempty"`
	Authoritative  bool            `json:"authoritative,omitempty"` // set by the aggregator, not the source
}

// UnknownResult builds an UNKNOWN result with a justification.
func UnknownResult(sourceID, marketID, why string) OracleResult {
	return OracleResult{SourceID: sourceID, MarketID: marketID, State: Unknown, Justification: why}
}

// Verdict is the aggregated resolution judgment for a market.
type Verdict struct {
	MarketID       string          `json:"market_id"`
	State          ResolutionState `json:"state"`
	WinningOutcome string          `json:"winning_outcome,omitempty"`
	Confidence     float64         `json:"confidence"`
	Disagreement   bool            `json:"disagreement,omitempty"`
	Disputed       bool            `json:"disputed,omitempty"`
	Sources        []OracleResult  `json:"sources"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AuthorizesEntry reports whether the verdict allows buying the winning outcome.
func (v Verdict) AuthorizesEntry(threshold float64) bool {
	return v.State >= EffectivelyResolved && v.WinningOutcome != "" && v.Confidence >= threshold
}

// AuthorizesSettlement reports whether held positions can be settled.
func (v Verdict) AuthorizesSettlement() bool {
	return v.State == OfficiallyResolved && v.WinningOutcome != ""
}
