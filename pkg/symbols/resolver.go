// Package symbols normalizes ticker symbols and expands them into the query
// variants used against reference datasets and the live feed.
package symbols

import (
	"strings"
	"unicode"
)

// Root strips the maturity suffix from a futures symbol, e.g. "ESZ5" -> "ES".
// A maturity code is one month letter followed by year digits, so when the
// leading letter run ends at a digit the final letter belongs to the maturity,
// not the root. Input that carries no alphabetic prefix is returned unchanged.
func Root(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for i, r := range s {
		if unicode.IsLetter(r) {
			continue
		}
		if i == 0 {
			return s
		}
		if unicode.IsDigit(r) && i > 1 {
			return s[:i-1]
		}
		return s[:i]
	}
	return s
}

// ExpandVariants returns the distinct query variants for a symbol in
// first-seen order: the normalized input itself, then the continuous-contract
// alias root+".FUT". The input is always element zero.
func ExpandVariants(symbol string) []string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return nil
	}

	variants := []string{s}
	seen := map[string]bool{s: true}

	if root := Root(s); root != "" {
		if fut := root + ".FUT"; !seen[fut] {
			variants = append(variants, fut)
			seen[fut] = true
		}
	}
	return variants
}

// ExpandAll expands every symbol in the set, deduplicating across inputs
// while preserving first-seen order.
func ExpandAll(syms []string) []string {
	var out []string
	seen := make(map[string]bool, len(syms)*2)
	for _, s := range syms {
		for _, v := range ExpandVariants(s) {
			if !seen[v] {
				out = append(out, v)
				seen[v] = true
			}
		}
	}
	return out
}
