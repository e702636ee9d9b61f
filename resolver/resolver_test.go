package resolver

import (
	"testing"

	"github.com/aschepis/backscratcher/lifebook/story"
)

func existing() []story.Entity {
	return []story.Entity{
		{ID: "e1", UserID: "u1", Name: "Maria", Type: story.EntityPerson, HistoryTags: []string{"Loved gardening"},
			Metadata: story.EntityMetadata{BirthPlace: "Oaxaca", Notes: "grandmother"}},
		{ID: "e2", UserID: "u1", Name: "Lyon", Type: story.EntityPlace, HistoryTags: []string{}},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		candidate Candidate
		want      Decision
	}{
		{"case folded match", Candidate{Name: "maria"}, Decision{Action: ActionMerge, TargetID: "e1", Name: "Maria"}},
		{"trimmed match", Candidate{Name: "  MARIA "}, Decision{Action: ActionMerge, TargetID: "e1", Name: "Maria"}},
		{"type hint ignored", Candidate{Name: "Lyon", Type: "PERSON"}, Decision{Action: ActionMerge, TargetID: "e2", Name: "Lyon"}},
		{"new entity", Candidate{Name: "Rex", Type: "PERSON"}, Decision{Action: ActionCreate, Name: "Rex"}},
		{"empty name", Candidate{Name: "   "}, Decision{Action: ActionCreate, Name: UnknownName}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(existing(), tt.candidate); got != tt.want {
				t.Fatalf("Resolve = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestApplyMerge(t *testing.T) {
	entities := existing()
	candidate := Candidate{
		Name:         "maria",
		Type:         "PLACE",
		Relationship: "Grandmother",
		Details:      "Born 1921",
		Metadata:     story.EntityMetadata{BirthDate: "1921", Notes: "abuela"},
	}
	out := Apply(entities, "u1", candidate, Resolve(entities, candidate), "unused")

	if len(out) != 2 {
		t.Fatalf("merge must not add entities, got %d", len(out))
	}
	m := out[0]
	if m.Type != story.EntityPerson {
		t.Errorf("type downgraded to %s", m.Type)
	}
	if m.Relationship != "Grandmother" {
		t.Errorf("relationship = %q", m.Relationship)
	}
	if len(m.HistoryTags) != 2 || m.HistoryTags[1] != "Born 1921" {
		t.Errorf("history tags = %v", m.HistoryTags)
	}
	if births := m.FactsOf(story.FactBirthDate); len(births) != 1 {
		t.Errorf("expected a typed birth fact, got %v", m.Facts)
	}
	want := story.EntityMetadata{BirthDate: "1921", BirthPlace: "Oaxaca", Notes: "abuela"}
	if m.Metadata != want {
		t.Errorf("metadata = %+v, want %+v", m.Metadata, want)
	}
	if len(entities[0].HistoryTags) != 1 || entities[0].Relationship != "" {
		t.Error("Apply modified its input")
	}
}

func TestApplyMergeKeepsExistingRelationshipAndSkipsDuplicateDetail(t *testing.T) {
	entities := existing()
	entities[0].Relationship = "Grandmother"
	candidate := Candidate{Name: "Maria", Relationship: "Aunt", Details: "Loved gardening"}
	out := Apply(entities, "u1", candidate, Resolve(entities, candidate), "unused")
	if out[0].Relationship != "Grandmother" {
		t.Errorf("relationship overwritten: %q", out[0].Relationship)
	}
	if len(out[0].HistoryTags) != 1 {
		t.Errorf("duplicate detail appended: %v", out[0].HistoryTags)
	}
}

func TestApplyCreate(t *testing.T) {
	candidate := Candidate{Name: "Rex", Type: "unknown-kind", Details: "Lived in Lyon"}
	out := Apply(existing(), "u1", candidate, Resolve(existing(), candidate), "e3")
	if len(out) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(out))
	}
	rex := out[2]
	if rex.ID != "e3" || rex.UserID != "u1" || rex.Name != "Rex" || rex.Type != story.EntityPerson {
		t.Fatalf("unexpected entity %+v", rex)
	}
	if len(rex.HistoryTags) != 1 || rex.Facts[0].Kind != story.FactPlace {
		t.Fatalf("unexpected tags/facts %v %v", rex.HistoryTags, rex.Facts)
	}

	blank := Apply(nil, "u1", Candidate{}, Resolve(nil, Candidate{}), "e9")
	if blank[0].Name != UnknownName || len(blank[0].HistoryTags) != 0 {
		t.Fatalf("unexpected placeholder entity %+v", blank[0])
	}
}

func TestNamesStayUniqueAcrossRepeatedMentions(t *testing.T) {
	var entities []story.Entity
	for i, name := range []string{"Maria", "maria", " MARIA", "Rex", "rex"} {
		c := Candidate{Name: name}
		entities = Apply(entities, "u1", c, Resolve(entities, c), string(rune('a'+i)))
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d: %+v", len(entities), entities)
	}
}

func TestDetector(t *testing.T) {
	entities := append(existing(),
		story.Entity{ID: "e3", Name: "Rex"},
		story.Entity{ID: "e4", Name: "Old Farm", Retired: true},
	)
	d, err := NewDetector(entities)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	got := d.Detect("We drove to LYON with rex, and maria met us; Rex barked at the old farm.")
	want := []string{"e2", "e3", "e1"}
	if len(got) != len(want) {
		t.Fatalf("Detect = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Detect = %v, want %v", got, want)
		}
	}

	empty, err := NewDetector(nil)
	if err != nil {
		t.Fatalf("NewDetector(nil): %v", err)
	}
	if ids := empty.Detect("anything"); len(ids) != 0 {
		t.Fatalf("expected no ids, got %v", ids)
	}
}
