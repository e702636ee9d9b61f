package pipeline

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/lifebook/era"
	"github.com/aschepis/backscratcher/lifebook/story"
	"github.com/google/go-cmp/cmp"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestPipeline() *Pipeline {
	n := 0
	return New(
		WithIDFunc(func() string { n++; return fmt.Sprintf("id%d", n) }),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func baseSnapshot() story.Snapshot {
	return story.Snapshot{
		Profile: &story.Profile{UID: "u1", BirthYear: 1974, BirthCity: "Lyon", Onboarded: true},
		Eras:    era.Onboarding(1974, "Lyon"),
		Entities: []story.Entity{
			{ID: "ent_maria", UserID: "u1", Name: "Maria", Type: story.EntityPerson, HistoryTags: []string{}},
		},
		ChatHistory: []story.ChatMessage{{
			ID:   "msg1",
			Role: story.RoleBiographer,
			Proposals: []story.DraftMemory{
				{Narrative: "Moved to Paris with Maria.", SortDate: "1995", Location: "Paris", SuggestedEraCategories: []story.EraCategory{story.EraLocation}},
				{Narrative: "Moved to Paris with Maria.", SortDate: "1995"},
				{Narrative: "First job.", SortDate: "1996"},
			},
			ProposedEntities: []story.ProposedEntity{{Name: "Rex", Type: story.EntityPerson, Details: "Born 1990"}},
		}},
	}
}

func TestConfirmDraft(t *testing.T) {
	p := newTestPipeline()
	snap := baseSnapshot()
	draft := snap.ChatHistory[0].Proposals[0]

	res := p.ConfirmDraft(snap, "msg1", draft)
	if !res.Changed {
		t.Fatal("expected change")
	}
	next := res.Snapshot
	if len(next.Memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(next.Memories))
	}
	m := next.Memories[0]
	if m.ID != res.MemoryID || m.UserID != "u1" || m.SortDate != "1995" || m.ConfidenceScore != 1 || m.OriginalInput != "Conversation" {
		t.Fatalf("unexpected memory %+v", m)
	}
	if !slices.Equal(m.EntityIDs, []string{"ent_maria"}) {
		t.Fatalf("entity ids = %v", m.EntityIDs)
	}

	// The Lyon era closes at 1995 and Life in Paris opens.
	if len(next.Eras) != 3 || next.Eras[1].EndYear != story.Through(1995) || next.Eras[2].Label != "Life in Paris" {
		t.Fatalf("unexpected eras %+v", next.Eras)
	}
	if !slices.Equal(m.EraIDs, []string{era.LocationOriginID, next.Eras[2].ID}) {
		t.Fatalf("era ids = %v", m.EraIDs)
	}

	// Only the first equal draft is stripped.
	props := next.ChatHistory[0].Proposals
	if len(props) != 2 || props[0].Narrative != "Moved to Paris with Maria." || props[1].Narrative != "First job." {
		t.Fatalf("unexpected remaining proposals %+v", props)
	}

	if len(snap.Memories) != 0 || len(snap.ChatHistory[0].Proposals) != 3 || len(snap.Eras) != 2 {
		t.Fatal("input snapshot was modified")
	}
}

func TestConfirmDraftTwiceIsNoOp(t *testing.T) {
	p := newTestPipeline()
	snap := baseSnapshot()
	draft := snap.ChatHistory[0].Proposals[2]

	first := p.ConfirmDraft(snap, "msg1", draft)
	second := p.ConfirmDraft(first.Snapshot, "msg1", draft)
	if second.Changed {
		t.Fatal("second confirmation should be a no-op")
	}
	if len(second.Snapshot.Memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(second.Snapshot.Memories))
	}
}

func TestConfirmDraftWithMissingMessage(t *testing.T) {
	p := newTestPipeline()
	snap := baseSnapshot()
	res := p.ConfirmDraft(snap, "gone", story.DraftMemory{Narrative: "A lost fragment.", SortDate: "1980"})
	if !res.Changed || len(res.Snapshot.Memories) != 1 {
		t.Fatalf("expected memory to be created, got %+v", res.Snapshot.Memories)
	}
	if diff := cmp.Diff(snap.ChatHistory, res.Snapshot.ChatHistory); diff != "" {
		t.Fatalf("chat history changed (-want +got):\n%s", diff)
	}
}

func TestConfirmUndatedFragmentsLeaveErasAlone(t *testing.T) {
	p := newTestPipeline()
	snap := baseSnapshot()
	snap.ChatHistory = nil
	snap = p.ConfirmDraft(snap, "gone", story.DraftMemory{
		Narrative:              "Moved to London.",
		SortDate:               "2001",
		Location:               "London",
		SuggestedEraCategories: []story.EraCategory{story.EraLocation},
	}).Snapshot
	wantEras := slices.Clone(snap.Eras)

	tests := []struct {
		name     string
		sortDate string
	}{
		{name: "free text", sortDate: "Unknown"},
		{name: "empty", sortDate: ""},
		{name: "extraction fallback", sortDate: story.UndatedSortDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.ConfirmDraft(snap, "gone", story.DraftMemory{
				Narrative:              "Lived in Paris for a while.",
				SortDate:               tt.sortDate,
				Location:               "Paris",
				SuggestedEraCategories: []story.EraCategory{story.EraLocation, story.EraPersonal},
			})
			m := res.Snapshot.Memories[len(res.Snapshot.Memories)-1]
			if m.SortDate != story.UndatedSortDate || len(m.EraIDs) != 0 {
				t.Fatalf("expected undated memory with no eras, got %+v", m)
			}
			if diff := cmp.Diff(wantEras, res.Snapshot.Eras); diff != "" {
				t.Fatalf("eras changed (-want +got):\n%s", diff)
			}
			for _, e := range res.Snapshot.Eras {
				if !e.Open() && e.EndYear.Year < e.StartYear {
					t.Fatalf("inverted era %+v", e)
				}
			}
		})
	}
}

func TestConfirmPendingArtifactWithoutYearStaysUndated(t *testing.T) {
	p := newTestPipeline()
	snap := baseSnapshot()
	snap.PendingArtifacts = []story.PendingArtifact{{
		ID:                     "pa1",
		SuggestedNarrative:     "A photo from Paris.",
		SuggestedLocation:      "Paris",
		SuggestedEraCategories: []story.EraCategory{story.EraLocation},
	}}
	res := p.ConfirmPendingArtifact(snap, "pa1")
	m := res.Snapshot.Memories[0]
	if m.SortDate != story.UndatedSortDate || len(m.EraIDs) != 0 {
		t.Fatalf("expected undated memory with no eras, got %+v", m)
	}
	if diff := cmp.Diff(snap.Eras, res.Snapshot.Eras); diff != "" {
		t.Fatalf("eras changed (-want +got):\n%s", diff)
	}
}

func TestConfirmDraftResolvesAssociatedEntities(t *testing.T) {
	p := newTestPipeline()
	snap := baseSnapshot()
	draft := story.DraftMemory{
		Narrative: "Dinner with my aunt.",
		SortDate:  "2001",
		AssociatedEntities: []story.ProposedEntity{
			{Name: "maria", Details: "Cooks well"},
			{Name: "Aunt Rosa", Type: story.EntityPerson},
		},
	}
	res := p.ConfirmDraft(snap, "gone", draft)
	next := res.Snapshot
	if len(next.Entities) != 2 {
		t.Fatalf("expected maria merged and Rosa created, got %+v", next.Entities)
	}
	if next.Entities[0].HistoryTags[0] != "Cooks well" {
		t.Fatalf("detail not merged: %+v", next.Entities[0])
	}
	if m := next.Memories[0]; len(m.EntityIDs) != 2 || m.EntityIDs[0] != "ent_maria" {
		t.Fatalf("entity ids = %v", m.EntityIDs)
	}
}

func TestConfirmPendingArtifact(t *testing.T) {
	p := newTestPipeline()
	snap := baseSnapshot()
	snap.PendingArtifacts = []story.PendingArtifact{
		{ID: "p1", Attachment: story.Attachment{Kind: story.AttachmentImage, URL: "blob:photo"}, SuggestedSortDate: "1985"},
		{ID: "p2", Attachment: story.Attachment{Kind: story.AttachmentPDF, URL: "blob:doc"}},
	}

	res := p.ConfirmPendingArtifact(snap, "p1")
	if !res.Changed {
		t.Fatal("expected change")
	}
	next := res.Snapshot
	if len(next.PendingArtifacts) != 1 || next.PendingArtifacts[0].ID != "p2" {
		t.Fatalf("unexpected pending %+v", next.PendingArtifacts)
	}
	m := next.Memories[0]
	if m.Narrative != ArtifactNarrative || m.ConfidenceScore != ArtifactConfidence || m.OriginalInput != "Upload" {
		t.Fatalf("unexpected memory %+v", m)
	}
	if m.Attachment == nil || m.Attachment.URL != "blob:photo" {
		t.Fatalf("attachment not carried: %+v", m.Attachment)
	}
	if !slices.Equal(m.EraIDs, []string{era.OriginID, era.LocationOriginID}) {
		t.Fatalf("era ids = %v", m.EraIDs)
	}

	if res := p.ConfirmPendingArtifact(next, "p1"); res.Changed {
		t.Fatal("confirming a removed artifact should be a no-op")
	}
}

func TestConfirmProposedEntity(t *testing.T) {
	p := newTestPipeline()
	snap := baseSnapshot()
	res := p.ConfirmProposedEntity(snap, "msg1", story.ProposedEntity{Name: "rex", Details: "Born 1990"})
	if !res.Changed {
		t.Fatal("expected change")
	}
	next := res.Snapshot
	if len(next.Entities) != 2 || next.Entities[1].ID != res.EntityID {
		t.Fatalf("unexpected entities %+v", next.Entities)
	}
	if len(next.ChatHistory[0].ProposedEntities) != 0 {
		t.Fatalf("proposal not stripped by case-insensitive name: %+v", next.ChatHistory[0].ProposedEntities)
	}
	if again := p.ConfirmProposedEntity(next, "msg1", story.ProposedEntity{Name: "Rex"}); again.Changed {
		t.Fatal("second confirmation should be a no-op")
	}
}

func TestDiscards(t *testing.T) {
	p := newTestPipeline()
	snap := baseSnapshot()
	snap.PendingArtifacts = []story.PendingArtifact{{ID: "p1"}}

	res := p.DiscardDraft(snap, "msg1", story.DraftMemory{Narrative: "First job."})
	if !res.Changed || len(res.Snapshot.ChatHistory[0].Proposals) != 2 || len(res.Snapshot.Memories) != 0 {
		t.Fatalf("unexpected discard result %+v", res.Snapshot.ChatHistory[0].Proposals)
	}
	res = p.DiscardProposedEntity(res.Snapshot, "msg1", "REX")
	if !res.Changed || len(res.Snapshot.ChatHistory[0].ProposedEntities) != 0 || len(res.Snapshot.Entities) != 1 {
		t.Fatal("proposed entity not discarded cleanly")
	}
	res = p.DiscardPendingArtifact(res.Snapshot, "p1")
	if !res.Changed || len(res.Snapshot.PendingArtifacts) != 0 || len(res.Snapshot.Memories) != 0 {
		t.Fatal("pending artifact not discarded cleanly")
	}
	if res := p.DiscardDraft(snap, "gone", story.DraftMemory{Narrative: "x"}); res.Changed {
		t.Fatal("discarding from a missing message should be a no-op")
	}
}

func TestConfirmReassignsExistingMemoriesWhenErasChange(t *testing.T) {
	p := newTestPipeline()
	snap := baseSnapshot()
	snap.Memories = []story.Memory{{ID: "old", SortDate: "2000", EraIDs: []string{era.LocationOriginID}}}

	res := p.ConfirmDraft(snap, "msg1", snap.ChatHistory[0].Proposals[0])
	old := res.Snapshot.Memories[0]
	if slices.Contains(old.EraIDs, era.LocationOriginID) {
		t.Fatalf("2000 memory still assigned to the closed Lyon era: %v", old.EraIDs)
	}
	if len(old.EraIDs) != 1 {
		t.Fatalf("expected the 2000 memory in Life in Paris, got %v", old.EraIDs)
	}
}
