package models

import (
	"time"
)

// Provenance of a price used in a PnL record.
const (
	SourceLive       = "live"
	SourceHistorical = "historical"
)

// StatusEvent is the first event on every stream, and is also used for
// degraded-mode notices (e.g. live feed failure before historical fallback).
type StatusEvent struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Symbols   []string  `json:"symbols,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent is a structured terminal or degraded error surfaced to the
// client instead of a raw error string.
type ErrorEvent struct {
	Error     string    `json:"error"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceEvent is one outbound price update.
type PriceEvent struct {
	Symbol       string    `json:"symbol"`
	InstrumentID uint32    `json:"instrument_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	BidPrice     *float64  `json:"bid_price,omitempty"`
	AskPrice     *float64  `json:"ask_price,omitempty"`
	LastPrice    *float64  `json:"last_price,omitempty"`
	BidSize      *uint32   `json:"bid_size,omitempty"`
	AskSize      *uint32   `json:"ask_size,omitempty"`
	RecordType   string    `json:"record_type"`
	ReceivedAt   time.Time `json:"received_at"`
}

// PnLRecord is one mark-to-market result for one position under one tick.
type PnLRecord struct {
	Symbol             string    `json:"symbol"`
	AccountID          int64     `json:"account_id"`
	AccountNickname    string    `json:"account_nickname,omitempty"`
	AccountDisplayName string    `json:"account_display_name,omitempty"`
	NetPos             int64     `json:"net_pos"`
	EntryPrice         float64   `json:"entry_price"`
	CurrentPrice       float64   `json:"current_price"`
	UnrealizedPnL      float64   `json:"unrealized_pnl"`
	BidPrice           *float64  `json:"bid_price,omitempty"`
	AskPrice           *float64  `json:"ask_price,omitempty"`
	LastPrice          *float64  `json:"last_price,omitempty"`
	PriceDiff          float64   `json:"price_diff"`
	Timestamp          time.Time `json:"timestamp"`
	PositionKey        string    `json:"position_key"`
	Source             string    `json:"source"`
}

// MarketStatus is the synchronous market-status response shape.
type MarketStatus struct {
	Open      bool      `json:"open"`
	Reason    string    `json:"reason"`
	Symbols   []string  `json:"symbols"`
	Timestamp time.Time `json:"timestamp"`
}
