package query

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// maxPatternOperands caps the explicit set form [a-b-c...].
const maxPatternOperands = 10

type PatternKind int

const (
	PatternSingle PatternKind = iota
	PatternRange
	PatternOpenRange
	PatternSet
)

// Pattern selects rows by ordinal: [n], [n:m], [n:] or [n-m-p...].
type Pattern struct {
	Kind     PatternKind
	Ordinals []int
}

// ParsePattern recognizes the four index pattern shapes. ok is false when
// text is not a pattern at all.
func ParsePattern(text string) (pattern Pattern, ok bool) {
	if len(text) < 3 || text[0] != '[' || text[len(text)-1] != ']' {
		return Pattern{}, false
	}
	inner := text[1 : len(text)-1]

	if first, rest, isRange := strings.Cut(inner, ":"); isRange {
		lo, ok := parseOrdinal(first)
		if !ok {
			return Pattern{}, false
		}
		if rest == "" {
			return Pattern{Kind: PatternOpenRange, Ordinals: []int{lo}}, true
		}
		hi, ok := parseOrdinal(rest)
		if !ok {
			return Pattern{}, false
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		return Pattern{Kind: PatternRange, Ordinals: []int{lo, hi}}, true
	}

	parts := strings.Split(inner, "-")
	if len(parts) > maxPatternOperands {
		return Pattern{}, false
	}
	ordinals := make([]int, 0, len(parts))
	for _, part := range parts {
		n, ok := parseOrdinal(part)
		if !ok {
			return Pattern{}, false
		}
		ordinals = append(ordinals, n)
	}
	if len(ordinals) == 1 {
		return Pattern{Kind: PatternSingle, Ordinals: ordinals}, true
	}
	slices.Sort(ordinals)
	return Pattern{Kind: PatternSet, Ordinals: slices.Compact(ordinals)}, true
}

// Resolve returns the sorted ordinals of the pattern that exist in a table
// holding rowCount rows. Ordinals outside 1..rowCount are dropped.
func (pattern Pattern) Resolve(rowCount int) []int {
	var resolved []int
	switch pattern.Kind {
	case PatternRange, PatternOpenRange:
		lo := max(pattern.Ordinals[0], 1)
		hi := rowCount
		if pattern.Kind == PatternRange {
			hi = min(pattern.Ordinals[1], rowCount)
		}
		for k := lo; k <= hi; k++ {
			resolved = append(resolved, k)
		}
	default:
		for _, k := range pattern.Ordinals {
			if k >= 1 && k <= rowCount {
				resolved = append(resolved, k)
			}
		}
	}
	return resolved
}

func parseOrdinal(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// too many digits to be a real ordinal
		return math.MaxInt, true
	}
	return n, true
}
