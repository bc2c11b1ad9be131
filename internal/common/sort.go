package common

import (
	"sort"
	"strconv"
	"unicode"
)

// SortAlphanum sorts names in natural order so that "run2" precedes "run10".
func SortAlphanum(names []string) []string {
	sort.SliceStable(names, func(i, j int) bool {
		return lessAlphanum(names[i], names[j])
	})
	return names
}

func lessAlphanum(a, b string) bool {
	ca, cb := chunks(a), chunks(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		x, y := ca[i], cb[i]
		xn, xerr := strconv.ParseUint(x, 10, 64)
		yn, yerr := strconv.ParseUint(y, 10, 64)
		if xerr == nil && yerr == nil {
			if xn != yn {
				return xn < yn
			}
			continue
		}
		if x != y {
			return x < y
		}
	}
	if len(ca) != len(cb) {
		return len(ca) < len(cb)
	}
	return a < b
}

// chunks splits s into alternating runs of digits and non-digits.
func chunks(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if i == 0 {
			continue
		}
		prev := rune(s[i-1])
		if unicode.IsDigit(r) != unicode.IsDigit(prev) {
			out = append(out, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
