package textutil

import (
	"strconv"
	"strings"
)

// Characters stripped before digit extraction: qualifier prefixes the
// upstream source mixes into amounts, then currency marks.
const (
	budgetQualifiers = "約^~ \t　"
	currencyMarks    = "元$€¥"
)

// ParseBudget converts a loosely formatted upstream amount string such as
// "562,937元", "約 562,937 元" or "$562,937" into an integer number of
// currency units. The second return value is false when no digit sequence
// remains after stripping known noise tokens. It never panics on arbitrary
// input.
func ParseBudget(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}

	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(budgetQualifiers, r) || strings.ContainsRune(currencyMarks, r) {
			continue
		}
		// Keep digits; thousands separators are dropped here as well since
		// they carry no value once qualifiers are gone.
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if digits == "" {
		return 0, false
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		// Overflow on an absurdly long digit run; treat as unparsable.
		return 0, false
	}
	return n, true
}
