package storystore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/aschepis/backscratcher/lifebook/codec"
	"github.com/aschepis/backscratcher/lifebook/era"
	"github.com/aschepis/backscratcher/lifebook/extraction"
	"github.com/aschepis/backscratcher/lifebook/persist"
	"github.com/aschepis/backscratcher/lifebook/pipeline"
	"github.com/aschepis/backscratcher/lifebook/story"
	"github.com/aschepis/backscratcher/lifebook/vault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type memPersister struct {
	mu        sync.Mutex
	initial   story.Snapshot
	submitted []story.Snapshot
	flushed   int
	submitErr error
}

func (p *memPersister) Submit(_ string, snap story.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, snap.Clone())
	return p.submitErr
}

func (p *memPersister) Load(context.Context, string) (story.Snapshot, error) {
	return p.initial.Clone(), nil
}

func (p *memPersister) Flush(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushed++
	return nil
}

func (p *memPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submitted)
}

func openTestStore(t *testing.T, initial story.Snapshot) (*Store, *memPersister) {
	t.Helper()
	p := &memPersister{initial: initial}
	n := 0
	pl := pipeline.New(
		pipeline.WithIDFunc(func() string { n++; return fmt.Sprintf("id%d", n) }),
		pipeline.WithClock(func() time.Time { return fixedNow }),
	)
	s, err := Open(context.Background(), "u1", p, WithPipeline(pl), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, p
}

func onboarded(t *testing.T) (*Store, *memPersister) {
	t.Helper()
	s, p := openTestStore(t, story.Snapshot{})
	if err := s.CompleteOnboarding(Onboarding{DisplayName: "Ana", DateOfBirth: "1974-05-12", BirthCity: "Mexico City"}); err != nil {
		t.Fatalf("CompleteOnboarding: %v", err)
	}
	return s, p
}

type scriptedExtractor struct {
	result extraction.Result
	err    error
	gotReq extraction.Request
	during func()
}

func (e *scriptedExtractor) Extract(_ context.Context, req extraction.Request) (extraction.Result, error) {
	e.gotReq = req
	if e.during != nil {
		e.during()
	}
	return e.result, e.err
}

type scriptedAnalyzer struct {
	result extraction.MediaResult
	err    error
}

func (a scriptedAnalyzer) AnalyzeMedia(context.Context, extraction.MediaRequest) (extraction.MediaResult, error) {
	return a.result, a.err
}

func TestOpenStartsFromPersistedStory(t *testing.T) {
	initial := story.Snapshot{Memories: []story.Memory{{ID: "m1", Narrative: "Old memory", SortDate: "1990"}}}
	s, _ := openTestStore(t, initial)
	if diff := cmp.Diff(initial, s.Snapshot()); diff != "" {
		t.Fatalf("unexpected start state (-want +got):\n%s", diff)
	}
	if _, err := Open(context.Background(), "", &memPersister{}); err == nil {
		t.Fatal("expected an error for an empty uid")
	}
}

func TestCompleteOnboarding(t *testing.T) {
	s, p := onboarded(t)
	snap := s.Snapshot()

	if snap.Profile == nil || !snap.Profile.Onboarded || snap.Profile.BirthYear != 1974 || snap.Profile.UID != "u1" {
		t.Fatalf("unexpected profile %+v", snap.Profile)
	}
	if len(snap.Eras) != 2 || snap.Eras[0].Label != "Early Years" || snap.Eras[0].EndYear != story.Through(1992) {
		t.Fatalf("unexpected eras %+v", snap.Eras)
	}
	if len(snap.ChatHistory) != 1 {
		t.Fatalf("expected only the welcome message, got %d", len(snap.ChatHistory))
	}
	welcome := snap.ChatHistory[0]
	if welcome.ID != WelcomeMessageID || welcome.Role != story.RoleBiographer {
		t.Fatalf("unexpected welcome %+v", welcome)
	}
	if !strings.HasPrefix(welcome.Text, "I see you were born in May 1974, that is great.") {
		t.Fatalf("unexpected welcome text %q", welcome.Text)
	}
	want := []story.DraftMemory{{
		Narrative:              "Born in Mexico City.",
		SortDate:               "1974-05-12",
		Location:               "Mexico City",
		Sentiment:              story.SentimentNeutral,
		SuggestedEraCategories: []story.EraCategory{story.EraPersonal, story.EraLocation},
	}}
	if diff := cmp.Diff(want, welcome.Proposals); diff != "" {
		t.Fatalf("birth draft mismatch (-want +got):\n%s", diff)
	}
	if p.count() != 1 {
		t.Fatalf("expected one submission, got %d", p.count())
	}
}

func TestCompleteOnboardingRejectsInput(t *testing.T) {
	s, p := openTestStore(t, story.Snapshot{})
	tests := []Onboarding{
		{DateOfBirth: "someday", BirthCity: "Lyon"},
		{DateOfBirth: "1700-01-01", BirthCity: "Lyon"},
		{DateOfBirth: "1974", BirthCity: "Lyon", Tone: "shouty"},
	}
	for _, o := range tests {
		if err := s.CompleteOnboarding(o); !errors.Is(err, ErrInvalidProfile) {
			t.Errorf("CompleteOnboarding(%+v) = %v, want ErrInvalidProfile", o, err)
		}
	}
	if p.count() != 0 || s.Snapshot().Profile != nil {
		t.Fatal("rejected onboarding changed the story")
	}
}

func TestWelcomeTextWithoutMonth(t *testing.T) {
	if got := welcomeText("1974", 1974); !strings.HasPrefix(got, "I see you were born in 1974, that is great.") {
		t.Fatalf("welcomeText = %q", got)
	}
}

func TestEraScenario(t *testing.T) {
	s, _ := onboarded(t)

	s.AppendChatMessage(story.ChatMessage{ID: "req1", Role: story.RoleUser, Text: "I moved to London for work"})
	reply := s.IngestCandidateFragments("req1", extraction.Result{
		Response: "Tell me more about London.",
		Drafts: []story.DraftMemory{{
			Narrative:              "Moved to London for work",
			SortDate:               "2001",
			Location:               "London",
			SuggestedEraCategories: []story.EraCategory{story.EraProfessional, story.EraLocation},
		}},
	})
	if id := s.ConfirmDraft(reply.ID, reply.Proposals[0]); id == "" {
		t.Fatal("expected a memory id")
	}

	snap := s.Snapshot()
	open := map[story.EraCategory][]story.Era{}
	for _, e := range snap.Eras {
		if e.Open() {
			open[e.Category] = append(open[e.Category], e)
		}
	}
	if len(open[story.EraProfessional]) != 1 || open[story.EraProfessional][0].StartYear != 2001 {
		t.Fatalf("professional eras %+v", open[story.EraProfessional])
	}
	if len(open[story.EraLocation]) != 1 || open[story.EraLocation][0].Label != "Life in London" {
		t.Fatalf("location eras %+v", open[story.EraLocation])
	}

	later := s.IngestCandidateFragments(reply.ID, extraction.Result{Drafts: []story.DraftMemory{{
		Narrative:              "Moved to Berlin",
		SortDate:               "2010",
		Location:               "Berlin",
		SuggestedEraCategories: []story.EraCategory{story.EraLocation},
	}}})
	s.ConfirmDraft(later.ID, later.Proposals[0])

	snap = s.Snapshot()
	var london story.Era
	for _, e := range snap.Eras {
		if e.Category == story.EraLocation && e.Label == "Life in London" {
			london = e
		}
	}
	if london.EndYear != story.Through(2010) {
		t.Fatalf("London era not closed at 2010: %+v", london)
	}
}

func TestIngestAttachesToRequestingMessage(t *testing.T) {
	s, _ := onboarded(t)
	s.AppendChatMessage(story.ChatMessage{ID: "req1", Role: story.RoleUser, Text: "first"})
	s.AppendChatMessage(story.ChatMessage{ID: "req2", Role: story.RoleUser, Text: "second"})

	r1 := s.IngestCandidateFragments("req1", extraction.Result{Response: "about first", Topic: "Childhood"})
	ids := messageIDs(s.Snapshot().ChatHistory)
	want := []string{WelcomeMessageID, "req1", r1.ID, "req2"}
	if !slices.Equal(ids, want) {
		t.Fatalf("chat order = %v, want %v", ids, want)
	}
	if r1.Topic != "Childhood" || r1.Role != story.RoleBiographer {
		t.Fatalf("unexpected reply %+v", r1)
	}

	r2 := s.IngestCandidateFragments("missing", extraction.Result{Response: "orphan"})
	ids = messageIDs(s.Snapshot().ChatHistory)
	if ids[len(ids)-1] != r2.ID {
		t.Fatalf("orphan reply not appended: %v", ids)
	}
}

func messageIDs(msgs []story.ChatMessage) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestTellToleratesInterleavedMessages(t *testing.T) {
	s, _ := onboarded(t)
	ex := &scriptedExtractor{result: extraction.Result{
		Response: "Lovely.",
		Drafts:   []story.DraftMemory{{Narrative: "Got a dog", SortDate: "1985"}},
	}}
	ex.during = func() {
		s.AppendChatMessage(story.ChatMessage{ID: "later", Role: story.RoleUser, Text: "typed while waiting"})
	}

	reply := s.Tell(context.Background(), ex, "We got a dog in 1985")
	if ex.gotReq.BirthYear != 1974 || ex.gotReq.UserName != "Ana" {
		t.Fatalf("request missing profile context: %+v", ex.gotReq)
	}

	history := s.Snapshot().ChatHistory
	if len(history) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(history))
	}
	if history[1].Text != "We got a dog in 1985" || history[2].ID != reply.ID || history[3].ID != "later" {
		t.Fatalf("reply not attached to its request: %v", messageIDs(history))
	}
}

func TestTellDegradesOnExtractorError(t *testing.T) {
	s, _ := onboarded(t)
	reply := s.Tell(context.Background(), &scriptedExtractor{err: errors.New("provider down")}, "Grandpa fixed clocks")
	if len(reply.Proposals) != 1 || reply.Proposals[0].Narrative != "Grandpa fixed clocks" || reply.Proposals[0].SortDate != story.UndatedSortDate {
		t.Fatalf("expected verbatim fallback draft, got %+v", reply.Proposals)
	}
}

func TestUploadAndConfirmPendingArtifact(t *testing.T) {
	s, _ := onboarded(t)
	analyzer := scriptedAnalyzer{result: extraction.MediaResult{
		SuggestedYear:       "1980",
		Narrative:           "A beach day",
		BiographerCuriosity: "Who took this photo?",
	}}
	pending := s.Upload(context.Background(), analyzer, "beach.jpg", []byte{0xff, 0xd8}, story.Attachment{URL: "blob:beach", MimeType: "image/jpeg"})
	if pending.Attachment.Kind != story.AttachmentImage || pending.SuggestedSortDate != "1980" {
		t.Fatalf("unexpected pending %+v", pending)
	}

	history := s.Snapshot().ChatHistory
	if got := history[len(history)-1].Text; got != "Who took this photo?" {
		t.Fatalf("curiosity message missing, last message %q", got)
	}
	if history[len(history)-2].ID != pending.MessageID {
		t.Fatal("pending artifact not tied to its upload message")
	}

	id, err := s.ConfirmPendingArtifact(pending.ID)
	if err != nil || id == "" {
		t.Fatalf("ConfirmPendingArtifact: %q %v", id, err)
	}
	if _, err := s.ConfirmPendingArtifact(pending.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second confirmation = %v, want ErrNotFound", err)
	}
	if got := len(s.Snapshot().PendingArtifacts); got != 0 {
		t.Fatalf("expected no pending artifacts, got %d", got)
	}
}

func TestConfirmAndDiscardProposedEntities(t *testing.T) {
	s, _ := onboarded(t)
	s.AppendChatMessage(story.ChatMessage{ID: "req1", Role: story.RoleUser, Text: "My aunt Maria"})
	reply := s.IngestCandidateFragments("req1", extraction.Result{Entities: []story.ProposedEntity{
		{Name: "maria", Type: story.EntityPerson, Details: "Born 1945"},
		{Name: "Rex", Type: story.EntityPerson},
	}})

	first := s.ConfirmProposedEntity(reply.ID, reply.ProposedEntities[0])
	again := s.ConfirmProposedEntity("elsewhere", story.ProposedEntity{Name: "Maria", Details: "Died 2010"})
	if first == "" || first != again {
		t.Fatalf("expected one entity, got ids %q and %q", first, again)
	}
	if !s.DiscardProposedEntity(reply.ID, "rex") {
		t.Fatal("expected Rex to be discarded")
	}

	snap := s.Snapshot()
	if len(snap.Entities) != 1 {
		t.Fatalf("expected one entity, got %+v", snap.Entities)
	}
	if !slices.Equal(snap.Entities[0].HistoryTags, []string{"Born 1945", "Died 2010"}) || snap.Entities[0].Name != "maria" {
		t.Fatalf("unexpected entity %+v", snap.Entities[0])
	}
}

func TestDeleteAndEditMemory(t *testing.T) {
	s, _ := onboarded(t)
	id := s.ConfirmDraft(WelcomeMessageID, s.Snapshot().ChatHistory[0].Proposals[0])
	if id == "" {
		t.Fatal("birth draft not confirmed")
	}

	date := "2005"
	text := "Born in Mexico City, or so I was told."
	if err := s.EditMemory(id, MemoryEdit{Narrative: &text, SortDate: &date}); err != nil {
		t.Fatalf("EditMemory: %v", err)
	}
	snap := s.Snapshot()
	m := snap.Memories[0]
	if m.Narrative != text || m.SortDate != "2005" {
		t.Fatalf("edit not applied %+v", m)
	}
	if !slices.Equal(m.EraIDs, era.Assign(snap.Eras, "2005")) || slices.Contains(m.EraIDs, era.OriginID) {
		t.Fatalf("era ids not recomputed: %v", m.EraIDs)
	}

	if err := s.DeleteMemory(id); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if got := s.Snapshot(); len(got.Memories) != 1 || !got.Memories[0].Deleted || len(got.ActiveMemories()) != 0 {
		t.Fatal("memory not soft deleted")
	}
	if err := s.DeleteMemory(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
	if err := s.EditMemory(id, MemoryEdit{Narrative: &text}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("editing a deleted memory = %v, want ErrNotFound", err)
	}
}

func TestSetProfile(t *testing.T) {
	s, p := openTestStore(t, story.Snapshot{})
	if err := s.SetProfile(story.Profile{UID: "someone-else", BirthYear: 1980, Tone: story.ToneConcise}); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	if got := s.Snapshot().Profile; got.UID != "u1" || got.Tone != story.ToneConcise {
		t.Fatalf("unexpected profile %+v", got)
	}
	if err := s.SetProfile(story.Profile{BirthYear: 3000}); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("SetProfile(3000) = %v, want ErrInvalidProfile", err)
	}
	if p.count() != 1 {
		t.Fatalf("expected one submission, got %d", p.count())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := onboarded(t)
	snap := s.Snapshot()
	snap.ChatHistory[0].Proposals[0].Narrative = "tampered"
	snap.Profile.BirthCity = "tampered"
	again := s.Snapshot()
	if again.ChatHistory[0].Proposals[0].Narrative == "tampered" || again.Profile.BirthCity == "tampered" {
		t.Fatal("Snapshot exposed internal state")
	}
}

func TestSubmitFailureKeepsMemoryState(t *testing.T) {
	s, p := onboarded(t)
	p.submitErr = persist.ErrClosed
	msg := s.AppendChatMessage(story.ChatMessage{Role: story.RoleUser, Text: "still here"})
	if i := s.Snapshot().Message(msg.ID); i < 0 {
		t.Fatal("change lost after a failed submit")
	}
	if err := s.Close(context.Background()); err != nil || p.flushed != 1 {
		t.Fatalf("Close: %v flushed=%d", err, p.flushed)
	}
}

func TestStoreOverPersistenceLayer(t *testing.T) {
	ctx := context.Background()
	db, err := vault.Open(ctx, ":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("vault.Open: %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup
	local := vault.NewStore(db, codec.New("store secret", codec.WithIterations(1000)), zerolog.Nop())

	layer := persist.New(local, zerolog.Nop())
	s, err := Open(ctx, "vault_abc", layer)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.CompleteOnboarding(Onboarding{DisplayName: "Ana", DateOfBirth: "1974", BirthCity: "Lyon"}); err != nil {
		t.Fatalf("CompleteOnboarding: %v", err)
	}
	s.ConfirmDraft(WelcomeMessageID, s.Snapshot().ChatHistory[0].Proposals[0])
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := layer.Close(ctx); err != nil {
		t.Fatalf("layer.Close: %v", err)
	}

	reopened, err := Open(ctx, "vault_abc", persist.New(local, zerolog.Nop()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Snapshot()
	if len(got.Memories) != 1 || got.Memories[0].Narrative != "Born in Lyon." {
		t.Fatalf("memory not persisted: %+v", got.Memories)
	}
	if got.Profile == nil || got.Profile.BirthCity != "Lyon" || len(got.Eras) != 3 {
		t.Fatalf("profile or eras not persisted: %+v %+v", got.Profile, got.Eras)
	}
}
