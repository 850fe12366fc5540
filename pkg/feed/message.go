// Package feed owns the live tick feed: subscription, demultiplexing and the
// historical range-query fallback.
package feed

import (
	"math"
	"time"

	"github.com/tradevault/tickstream/pkg/models"
)

// MessageKind discriminates inbound feed messages once, at ingestion.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindMapping
	KindQuote
	KindTrade
)

func (k MessageKind) String() string {
	switch k {
	case KindMapping:
		return "mapping"
	case KindQuote:
		return "quote"
	case KindTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// Message is the tagged union decoded from raw feed records. Mapping
// messages carry InstrumentID and Symbol; quote/trade messages carry the
// price fields, with Symbol set only when the feed included one inline.
type Message struct {
	Kind         MessageKind
	InstrumentID uint32
	Symbol       string
	Bid          *float64
	Ask          *float64
	Last         *float64
	BidSize      *uint32
	AskSize      *uint32
	EventTime    time.Time
	ReceivedTime time.Time
}

// DBN undefined-price sentinel (max int64); prices at or above it, and
// non-positive prices, are treated as absent.
const undefPrice = int64(math.MaxInt64)

const pxScale = 1_000_000_000.0

// fx9 converts a DBN 1e-9 fixed-point price to a float pointer, nil when the
// field is undefined.
func fx9(px int64) *float64 {
	if px <= 0 || px == undefPrice {
		return nil
	}
	f := float64(px) / pxScale
	return &f
}

// Tick converts a quote/trade message into the canonical PriceTick, using
// the supplied resolved symbol. Returns false for ticks carrying no price.
func (m *Message) Tick(symbol string) (models.PriceTick, bool) {
	t := models.PriceTick{
		Symbol:       symbol,
		InstrumentID: m.InstrumentID,
		Bid:          m.Bid,
		Ask:          m.Ask,
		Last:         m.Last,
		BidSize:      m.BidSize,
		AskSize:      m.AskSize,
		EventTime:    m.EventTime,
		ReceivedTime: m.ReceivedTime,
	}
	return t, t.HasPrice()
}
