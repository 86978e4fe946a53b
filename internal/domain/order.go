package domain

import "time"

// OrderType is the CLOB time-in-force.
type OrderType string

const (
	OrderFAK OrderType = "FAK" // fill and kill: match what is available, cancel the rest
	OrderFOK OrderType = "FOK"
	OrderGTC OrderType = "GTC"
)

// LimitOrder is what the live executor hands to the order placement API.
type LimitOrder struct {
	TokenID string
	Side    Side
	Price   float64
	Size    float64 // shares
	NegRisk bool
	Type    OrderType
}

// PlacedOrder is the API response to a placed order.
type PlacedOrder struct {
	OrderID     string
	Status      string // "matched" | "live" | "delayed" | "unmatched"
	MatchedSize float64
	AvgPrice    float64
	TxHashes    []string
	SubmittedAt time.Time
}

// RedeemResult is the outcome of an on-chain CTF redeem.
type RedeemResult struct {
	MarketID   string
	TxHash     string
	GasUsed    uint64
	Success    bool
	Error      string
	ExecutedAt time.Time
}
