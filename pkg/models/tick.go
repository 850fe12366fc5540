package models

import (
	"time"
)

// PriceTick is one normalized update from the live feed. Price and size
// fields are pointers because the feed routinely delivers one-sided books;
// a tick with none of bid/ask/last set is discarded at ingestion.
type PriceTick struct {
	Symbol       string
	InstrumentID uint32
	Bid          *float64
	Ask          *float64
	Last         *float64
	BidSize      *uint32
	AskSize      *uint32
	EventTime    time.Time
	ReceivedTime time.Time
}

// HasPrice reports whether at least one of bid/ask/last is present.
func (t *PriceTick) HasPrice() bool {
	return t.Bid != nil || t.Ask != nil || t.Last != nil
}

// Bar is one historical OHLCV bar.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    uint64    `json:"volume"`
	EventTime time.Time `json:"event_time"`
}

// SnapshotPrice is a single-shot "current price" substitute taken from the
// most recent historical bar when live data is unavailable.
type SnapshotPrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
