// Package era manages the category-scoped life phases a story is divided into.
// Eras of different categories may overlap, but each category has at most one
// open-ended era at a time: admitting a new one closes its predecessor.
package era

import (
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/lifebook/story"
	"github.com/samber/lo"
)

// Onboarding era ids and labels.
const (
	OriginID         = "era_origin"
	LocationOriginID = "era_location_origin"
	EarlyYearsLabel  = "Early Years"

	childhoodYears = 18
)

// Assign returns the ids of every era containing the year of sortDate.
// A date without a parseable year falls in no era.
func Assign(eras []story.Era, sortDate string) []string {
	year, ok := story.YearOf(sortDate)
	if !ok {
		return []string{}
	}
	return lo.FilterMap(eras, func(e story.Era, _ int) (string, bool) {
		return e.ID, e.Contains(year)
	})
}

// Proposal is a request to start a new era.
type Proposal struct {
	Category  story.EraCategory
	Label     string
	StartYear int
}

// Admission is what admitting a proposal changes. A zero Admission is a no-op.
type Admission struct {
	ToClose  *string
	CloseAt  int
	ToInsert *story.Era
}

// NoOp reports whether the admission changes nothing.
func (a Admission) NoOp() bool { return a.ToClose == nil && a.ToInsert == nil }

// Admit decides how to admit p. If the category's open era already has the
// same label and start year, nothing changes. Otherwise the open era (if any)
// is closed at p.StartYear and a new open era is inserted.
func Admit(eras []story.Era, p Proposal, newID string) Admission {
	var adm Admission
	for _, e := range eras {
		if e.Category != p.Category || !e.Open() {
			continue
		}
		if e.Label == p.Label && e.StartYear == p.StartYear {
			return Admission{}
		}
		id := e.ID
		adm.ToClose = &id
		adm.CloseAt = p.StartYear
		break
	}
	adm.ToInsert = &story.Era{
		ID:        newID,
		Label:     p.Label,
		Category:  p.Category,
		StartYear: p.StartYear,
		EndYear:   story.Present(),
	}
	return adm
}

// Apply returns a new era set with adm applied.
func Apply(eras []story.Era, adm Admission) []story.Era {
	out := make([]story.Era, len(eras), len(eras)+1)
	copy(out, eras)
	if adm.ToClose != nil {
		for i := range out {
			if out[i].ID == *adm.ToClose {
				out[i].EndYear = story.Through(adm.CloseAt)
			}
		}
	}
	if adm.ToInsert != nil {
		out = append(out, *adm.ToInsert)
	}
	return out
}

// LabelFor names an era discovered from a memory.
func LabelFor(category story.EraCategory, location string) string {
	if location = strings.TrimSpace(location); location != "" {
		return "Life in " + location
	}
	return fmt.Sprintf("New %s Era", category)
}

// Onboarding returns the eras every story starts with: a personal era
// covering childhood and an open location era for the birth city.
func Onboarding(birthYear int, birthCity string) []story.Era {
	return []story.Era{
		{
			ID:         OriginID,
			Label:      EarlyYearsLabel,
			Category:   story.EraPersonal,
			StartYear:  birthYear,
			EndYear:    story.Through(birthYear + childhoodYears),
			ColorTheme: "amber",
		},
		{
			ID:         LocationOriginID,
			Label:      LabelFor(story.EraLocation, birthCity),
			Category:   story.EraLocation,
			StartYear:  birthYear,
			EndYear:    story.Present(),
			ColorTheme: "teal",
		},
	}
}

// Reassign recomputes era ids of every memory against eras.
func Reassign(memories []story.Memory, eras []story.Era) []story.Memory {
	return lo.Map(memories, func(m story.Memory, _ int) story.Memory {
		m = m.Clone()
		m.EraIDs = Assign(eras, m.SortDate)
		return m
	})
}
