// Package positions groups a user's open positions by symbol.
package positions

import (
	"github.com/tradevault/tickstream/pkg/models"
)

// Group buckets positions by symbol, dropping flat positions: a zero net
// position carries no PnL and is not tracked for streaming.
func Group(positions []models.Position) models.SymbolPositionGroup {
	group := make(models.SymbolPositionGroup)
	for _, p := range positions {
		if p.NetPos == 0 {
			continue
		}
		group[p.Symbol] = append(group[p.Symbol], p)
	}
	return group
}

// Symbols returns the distinct symbols with a non-zero position, in
// first-seen order.
func Symbols(positions []models.Position) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range positions {
		if p.NetPos == 0 || seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		out = append(out, p.Symbol)
	}
	return out
}

// ContractIDs returns the distinct contract ids behind the non-zero
// positions, for up-front reference-data resolution.
func ContractIDs(positions []models.Position) []int64 {
	var out []int64
	seen := make(map[int64]bool)
	for _, p := range positions {
		if p.NetPos == 0 || seen[p.ContractID] {
			continue
		}
		seen[p.ContractID] = true
		out = append(out, p.ContractID)
	}
	return out
}
