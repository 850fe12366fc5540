package models

// VenueFlavor selects the demo or live trading environment. The same
// contract id means different products on different flavors, so the flavor
// participates in reference-data cache keys.
type VenueFlavor string

const (
	FlavorDemo VenueFlavor = "demo"
	FlavorLive VenueFlavor = "live"
)

// Position is one open position on a brokerage sub-account, captured at
// stream start. It is immutable for the lifetime of a stream session.
type Position struct {
	AccountID          int64
	AccountNickname    string
	AccountDisplayName string
	Symbol             string
	ContractID         int64
	NetPos             int64 // positive = long, negative = short
	EntryPrice         float64
}

// SymbolPositionGroup maps a symbol to the positions open under it.
// Flat positions (NetPos == 0) are never present.
type SymbolPositionGroup map[string][]Position

// ContractDetails carries the contract multiplier metadata needed to turn a
// price difference into a dollar PnL.
type ContractDetails struct {
	ValuePerPoint float64
	TickSize      float64
	DisplayName   string
}

// DefaultContractDetails is used whenever the reference-data chain fails;
// PnL proceeds with an approximate multiplier rather than stalling.
func DefaultContractDetails(name string) ContractDetails {
	return ContractDetails{ValuePerPoint: 50, TickSize: 0.25, DisplayName: name}
}
