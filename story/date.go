package story

import (
	"regexp"
	"strconv"
)

// UndatedSortDate marks a memory whose date could not be resolved.
const UndatedSortDate = "0000"

var yearPattern = regexp.MustCompile(`(?:^|[^0-9])([0-9]{4})(?:[^0-9]|$)`)

// YearOf extracts the first standalone four-digit year from a sort date.
// Partial and fuzzy dates ("2001", "2001-05-03", "circa 1999") are accepted.
// The undated sentinel and strings without a year report false.
func YearOf(sortDate string) (int, bool) {
	m := yearPattern.FindStringSubmatch(sortDate)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil || year == 0 {
		return 0, false
	}
	return year, true
}
