package story

import (
	"regexp"
	"strings"
)

// FactKind tags a typed entity detail.
type FactKind string

const (
	FactBirthDate FactKind = "birth_date"
	FactDeathDate FactKind = "death_date"
	FactPlace     FactKind = "place"
	FactNote      FactKind = "note"
)

// Fact is one typed detail about an entity. Value keeps the original wording.
type Fact struct {
	Kind  FactKind `json:"kind"`
	Value string   `json:"value"`
}

var (
	bornPattern  = regexp.MustCompile(`(?i)^\s*(born|b\.)\s`)
	diedPattern  = regexp.MustCompile(`(?i)^\s*(died|passed away|d\.)\s`)
	placePattern = regexp.MustCompile(`(?i)^\s*(lived in|lives in|from|moved to|grew up in|born in)\s+\D`)
)

// ClassifyDetail turns a free-text detail into a typed fact. Birth and death
// phrases need a year to count as dates; "Born in Lyon" is a place.
func ClassifyDetail(detail string) Fact {
	detail = strings.TrimSpace(detail)
	_, hasYear := YearOf(detail)
	switch {
	case bornPattern.MatchString(detail) && hasYear:
		return Fact{Kind: FactBirthDate, Value: detail}
	case diedPattern.MatchString(detail) && hasYear:
		return Fact{Kind: FactDeathDate, Value: detail}
	case placePattern.MatchString(detail):
		return Fact{Kind: FactPlace, Value: detail}
	default:
		return Fact{Kind: FactNote, Value: detail}
	}
}
