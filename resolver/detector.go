package resolver

import (
	"sort"
	"strings"

	"github.com/aschepis/backscratcher/lifebook/story"
	"github.com/coregx/ahocorasick"
)

// Detector finds mentions of known entities in free text.
type Detector struct {
	ac       *ahocorasick.Automaton
	patterns []string
	ids      [][]string
}

// NewDetector builds a case-insensitive matcher over the entity names.
// Retired entities are not detected.
func NewDetector(entities []story.Entity) (*Detector, error) {
	d := &Detector{}
	index := map[string]int{}
	for _, e := range entities {
		if e.Retired {
			continue
		}
		key := Key(e.Name)
		if key == "" {
			continue
		}
		if idx, ok := index[key]; ok {
			d.ids[idx] = append(d.ids[idx], e.ID)
			continue
		}
		index[key] = len(d.patterns)
		d.patterns = append(d.patterns, key)
		d.ids = append(d.ids, []string{e.ID})
	}
	if len(d.patterns) == 0 {
		return d, nil
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(d.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	d.ac = automaton
	return d, nil
}

// Detect returns the ids of entities whose names occur in text, in order of
// first occurrence and without duplicates.
func (d *Detector) Detect(text string) []string {
	if d == nil || d.ac == nil {
		return []string{}
	}
	matches := d.ac.FindAllOverlapping([]byte(strings.ToLower(text)))
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })

	seen := map[string]bool{}
	out := []string{}
	for _, m := range matches {
		if m.PatternID < 0 || m.PatternID >= len(d.ids) {
			continue
		}
		for _, id := range d.ids[m.PatternID] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
