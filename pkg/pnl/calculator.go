// Package pnl computes direction-aware unrealized PnL from price ticks.
package pnl

import (
	"fmt"
	"math"

	"github.com/tradevault/tickstream/pkg/models"
)

// DetailsLookup returns the contract details for a position's contract id.
// The stream session resolves these once up front and serves them from a
// map; the signature keeps the calculator free of the cache dependency.
type DetailsLookup func(contractID int64) models.ContractDetails

// Compute produces one record per position open under the tick's symbol.
//
// Longs are marked against the bid (what the position could be sold for),
// shorts against the ask (what it would cost to cover); the last trade and
// the opposite side serve as fallbacks. A position whose side and fallbacks
// are all absent is skipped for this tick rather than emitting a null PnL.
func Compute(tick models.PriceTick, group models.SymbolPositionGroup, details DetailsLookup, source string) []models.PnLRecord {
	posList := group[tick.Symbol]
	if len(posList) == 0 {
		return nil
	}

	records := make([]models.PnLRecord, 0, len(posList))
	for _, pos := range posList {
		var current *float64
		var diff float64
		switch {
		case pos.NetPos > 0:
			current = firstPresent(tick.Bid, tick.Last, tick.Ask)
			if current == nil {
				continue
			}
			diff = *current - pos.EntryPrice
		case pos.NetPos < 0:
			current = firstPresent(tick.Ask, tick.Last, tick.Bid)
			if current == nil {
				continue
			}
			diff = pos.EntryPrice - *current
		default:
			continue
		}

		d := details(pos.ContractID)
		qty := pos.NetPos
		if qty < 0 {
			qty = -qty
		}
		value := diff * float64(qty) * d.ValuePerPoint

		records = append(records, models.PnLRecord{
			Symbol:             tick.Symbol,
			AccountID:          pos.AccountID,
			AccountNickname:    pos.AccountNickname,
			AccountDisplayName: pos.AccountDisplayName,
			NetPos:             pos.NetPos,
			EntryPrice:         pos.EntryPrice,
			CurrentPrice:       *current,
			UnrealizedPnL:      Round2(value),
			BidPrice:           tick.Bid,
			AskPrice:           tick.Ask,
			LastPrice:          tick.Last,
			PriceDiff:          Round4(diff),
			Timestamp:          tick.EventTime,
			PositionKey:        fmt.Sprintf("%s:%d", tick.Symbol, pos.AccountID),
			Source:             source,
		})
	}
	return records
}

func firstPresent(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// Round2 rounds to cents; applied at emission only.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round4 rounds a price difference to 4 decimal places at emission.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
