package domain

// CopyVerdict is the outcome of evaluating a trade or an entry opportunity.
type CopyVerdict string

const (
	VerdictCopy CopyVerdict = "COPY"
	VerdictSkip CopyVerdict = "SKIP"
)

// SkipReason identifies which filter or execution step rejected a trade.
type SkipReason string

const (
	ReasonBelowMinSize        SkipReason = "below_min_size"
	ReasonPriceOutOfBand      SkipReason = "price_out_of_band"
	ReasonOppositeSide        SkipReason = "opposite_side"
	ReasonPositionCap         SkipReason = "position_cap"
	ReasonNoPosition          SkipReason = "no_position"
	ReasonSlippageExceeded    SkipReason = "slippage_exceeded"
	ReasonNotResolved         SkipReason = "not_resolved"
	ReasonInsufficientBalance SkipReason = "insufficient_paper_balance"
	ReasonExecutionFailed     SkipReason = "execution_failed"
	ReasonMarketUnavailable   SkipReason = "market_unavailable"
	ReasonNearResolution      SkipReason = "near_resolution"
	ReasonMinoritySide        SkipReason = "minority_side"
)

// OrderSource tells whether an order copies the target or enters a resolved market.
type OrderSource string

const (
	SourceCopy       OrderSource = "copy"
	SourceResolution OrderSource = "resolution"
)

// OrderRequest holds the computed order parameters of a COPY decision.
type OrderRequest struct {
	MarketID   string
	Title      string
	Outcome    string
	TokenID    string
	Side       Side
	LimitPrice float64
	Size       float64 // shares
	NegRisk    bool
	Source     OrderSource
	TradeID    string // target trade being copied, empty for resolution entries
}

// Notional returns LimitPrice × Size.
func (o OrderRequest) Notional() float64 {
	return o.LimitPrice * o.Size
}

// Key returns the position key the order affects.
func (o OrderRequest) Key() PositionKey {
	return PositionKey{MarketID: o.MarketID, Outcome: o.Outcome}
}

// CopyDecision is the ephemeral result of running the filter chain.
type CopyDecision struct {
	Verdict CopyVerdict
	Reason  SkipReason
	Detail  string
	Order   OrderRequest
}

// Skip builds a SKIP decision.
func Skip(reason SkipReason, detail string) CopyDecision {
	return CopyDecision{Verdict: VerdictSkip, Reason: reason, Detail: detail}
}

// Copy builds a COPY decision.
func Copy(order OrderRequest) CopyDecision {
	return CopyDecision{Verdict: VerdictCopy, Order: order}
}

// IsCopy reports whether the decision authorizes an order.
func (d CopyDecision) IsCopy() bool {
	return d.Verdict == VerdictCopy
}
