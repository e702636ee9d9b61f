// Package pipeline moves candidate fragments through their lifecycle:
// Proposed to Confirmed (an authoritative memory or entity) or Proposed to
// Discarded. Every transition is a pure function from one snapshot to the next.
package pipeline

import (
	"slices"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/lifebook/era"
	"github.com/aschepis/backscratcher/lifebook/resolver"
	"github.com/aschepis/backscratcher/lifebook/story"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Provenance and confidence recorded on confirmed memories.
const (
	ArtifactNarrative  = "Artifact Record"
	DraftConfidence    = 1.0
	ArtifactConfidence = 0.9

	OriginConversation = "Conversation"
	OriginUpload       = "Upload"
)

// Result is the outcome of a transition. When Changed is false Snapshot is
// the input unchanged.
type Result struct {
	Snapshot story.Snapshot
	MemoryID string
	EntityID string
	Changed  bool
}

func unchanged(snap story.Snapshot) Result { return Result{Snapshot: snap} }

// Pipeline carries the id and clock sources transitions use.
type Pipeline struct {
	newID  func() string
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIDFunc sets the id generator.
func WithIDFunc(f func() string) Option { return func(p *Pipeline) { p.newID = f } }

// WithClock sets the time source.
func WithClock(f func() time.Time) Option { return func(p *Pipeline) { p.now = f } }

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger.With().Str("component", "pipeline").Logger() }
}

// New creates a Pipeline with uuid ids and the wall clock.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{newID: uuid.NewString, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewID allocates an id from the pipeline's generator.
func (p *Pipeline) NewID() string { return p.newID() }

// ConfirmDraft turns a draft attached to messageID into a memory. If the
// message still exists but no longer carries the draft, the draft was already
// decided and nothing changes. If the message is gone the memory is still
// created.
func (p *Pipeline) ConfirmDraft(snap story.Snapshot, messageID string, draft story.DraftMemory) Result {
	p.logger.Debug().
		Str("method", "ConfirmDraft").
		Str("messageID", messageID).
		Str("sortDate", draft.SortDate).
		Msg("called")

	msgIdx := snap.Message(messageID)
	if msgIdx >= 0 && draftIndex(snap.ChatHistory[msgIdx], draft.Narrative) < 0 {
		p.logger.Debug().Str("messageID", messageID).Msg("Draft already decided")
		return unchanged(snap)
	}

	next := snap.Clone()
	sortDate := resolveDate(draft.SortDate)
	location := strings.TrimSpace(draft.Location)

	p.admitEras(&next, draft.SuggestedEraCategories, sortDate, location)

	entityIDs := p.associate(&next, draft.AssociatedEntities)
	entityIDs = appendUnique(entityIDs, p.detect(next.Entities, draft.Narrative)...)

	now := p.now()
	memory := story.Memory{
		ID:                p.newID(),
		UserID:            uidOf(next),
		Narrative:         draft.Narrative,
		OriginalInput:     OriginConversation,
		SortDate:          sortDate,
		Location:          location,
		Sentiment:         story.ParseSentiment(string(draft.Sentiment)),
		Kind:              story.ParseMemoryKind(string(draft.Kind)),
		EntityIDs:         entityIDs,
		EraIDs:            era.Assign(next.Eras, sortDate),
		AIInsight:         draft.AIInsight,
		HistoricalContext: draft.HistoricalContext,
		ConfidenceScore:   DraftConfidence,
		EventAnchor:       draft.SuggestedEventAnchor,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if msgIdx >= 0 {
		memory.Sources = slices.Clone(next.ChatHistory[msgIdx].Sources)
		if att := next.ChatHistory[msgIdx].Attachment; att != nil {
			a := *att
			memory.Attachment = &a
		}
	}
	next.Memories = append(next.Memories, memory)

	if msgIdx >= 0 {
		stripDraft(&next.ChatHistory[msgIdx], draft.Narrative)
	}
	return Result{Snapshot: next, MemoryID: memory.ID, Changed: true}
}

// ConfirmPendingArtifact turns a pending artifact into a memory and removes it
// from the pending set. Unknown ids change nothing.
func (p *Pipeline) ConfirmPendingArtifact(snap story.Snapshot, id string) Result {
	p.logger.Debug().Str("method", "ConfirmPendingArtifact").Str("id", id).Msg("called")

	idx := slices.IndexFunc(snap.PendingArtifacts, func(a story.PendingArtifact) bool { return a.ID == id })
	if idx < 0 {
		return unchanged(snap)
	}

	next := snap.Clone()
	artifact := next.PendingArtifacts[idx]
	sortDate := resolveDate(artifact.SuggestedSortDate)
	location := strings.TrimSpace(artifact.SuggestedLocation)

	p.admitEras(&next, artifact.SuggestedEraCategories, sortDate, location)

	narrative := strings.TrimSpace(artifact.SuggestedNarrative)
	if narrative == "" {
		narrative = ArtifactNarrative
	}
	attachment := artifact.Attachment
	now := p.now()
	memory := story.Memory{
		ID:                p.newID(),
		UserID:            uidOf(next),
		Narrative:         narrative,
		OriginalInput:     OriginUpload,
		SortDate:          sortDate,
		Location:          location,
		Sentiment:         story.SentimentNeutral,
		Kind:              story.MemoryEvent,
		EntityIDs:         p.detect(next.Entities, narrative),
		EraIDs:            era.Assign(next.Eras, sortDate),
		Attachment:        &attachment,
		HistoricalContext: artifact.Analysis,
		ConfidenceScore:   ArtifactConfidence,
		EventAnchor:       artifact.SuggestedEventAnchor,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	next.Memories = append(next.Memories, memory)
	next.PendingArtifacts = slices.Delete(next.PendingArtifacts, idx, idx+1)
	return Result{Snapshot: next, MemoryID: memory.ID, Changed: true}
}

// ConfirmProposedEntity resolves a proposed entity into the entity set and
// strips it from its message by case-insensitive name.
func (p *Pipeline) ConfirmProposedEntity(snap story.Snapshot, messageID string, proposal story.ProposedEntity) Result {
	p.logger.Debug().
		Str("method", "ConfirmProposedEntity").
		Str("messageID", messageID).
		Str("name", proposal.Name).
		Msg("called")

	msgIdx := snap.Message(messageID)
	if msgIdx >= 0 && proposedIndex(snap.ChatHistory[msgIdx], proposal.Name) < 0 {
		return unchanged(snap)
	}

	next := snap.Clone()
	candidate := resolver.FromProposal(proposal)
	decision := resolver.Resolve(next.Entities, candidate)
	newID := p.newID()
	next.Entities = resolver.Apply(next.Entities, uidOf(next), candidate, decision, newID)

	entityID := decision.TargetID
	if decision.Action == resolver.ActionCreate {
		entityID = newID
	}
	if msgIdx >= 0 {
		stripProposed(&next.ChatHistory[msgIdx], proposal.Name)
	}
	return Result{Snapshot: next, EntityID: entityID, Changed: true}
}

// DiscardDraft removes the first draft with the given narrative from the message.
func (p *Pipeline) DiscardDraft(snap story.Snapshot, messageID string, draft story.DraftMemory) Result {
	msgIdx := snap.Message(messageID)
	if msgIdx < 0 || draftIndex(snap.ChatHistory[msgIdx], draft.Narrative) < 0 {
		return unchanged(snap)
	}
	next := snap.Clone()
	stripDraft(&next.ChatHistory[msgIdx], draft.Narrative)
	return Result{Snapshot: next, Changed: true}
}

// DiscardPendingArtifact drops a pending artifact without a trace.
func (p *Pipeline) DiscardPendingArtifact(snap story.Snapshot, id string) Result {
	idx := slices.IndexFunc(snap.PendingArtifacts, func(a story.PendingArtifact) bool { return a.ID == id })
	if idx < 0 {
		return unchanged(snap)
	}
	next := snap.Clone()
	next.PendingArtifacts = slices.Delete(next.PendingArtifacts, idx, idx+1)
	return Result{Snapshot: next, Changed: true}
}

// DiscardProposedEntity removes a proposed entity from its message.
func (p *Pipeline) DiscardProposedEntity(snap story.Snapshot, messageID, name string) Result {
	msgIdx := snap.Message(messageID)
	if msgIdx < 0 || proposedIndex(snap.ChatHistory[msgIdx], name) < 0 {
		return unchanged(snap)
	}
	next := snap.Clone()
	stripProposed(&next.ChatHistory[msgIdx], name)
	return Result{Snapshot: next, Changed: true}
}

// resolveDate keeps a date with a year and marks anything else undated.
// An undated memory belongs to no era and never admits one.
func resolveDate(sortDate string) string {
	if _, ok := story.YearOf(sortDate); ok {
		return strings.TrimSpace(sortDate)
	}
	return story.UndatedSortDate
}

// admitEras admits one era per suggested category and, if the era set
// changed, recomputes era ids of the existing memories.
func (p *Pipeline) admitEras(snap *story.Snapshot, categories []story.EraCategory, sortDate, location string) {
	year, ok := story.YearOf(sortDate)
	if !ok {
		return
	}
	changed := false
	for _, cat := range categories {
		if _, known := story.ParseEraCategory(string(cat)); !known {
			continue
		}
		adm := era.Admit(snap.Eras, era.Proposal{
			Category:  cat,
			Label:     era.LabelFor(cat, location),
			StartYear: year,
		}, "era_"+p.newID())
		if adm.NoOp() {
			continue
		}
		snap.Eras = era.Apply(snap.Eras, adm)
		changed = true
	}
	if changed {
		snap.Memories = era.Reassign(snap.Memories, snap.Eras)
	}
}

// associate resolves entities the extraction attached to a draft.
func (p *Pipeline) associate(snap *story.Snapshot, proposals []story.ProposedEntity) []string {
	ids := []string{}
	for _, proposal := range proposals {
		candidate := resolver.FromProposal(proposal)
		decision := resolver.Resolve(snap.Entities, candidate)
		newID := p.newID()
		snap.Entities = resolver.Apply(snap.Entities, uidOf(*snap), candidate, decision, newID)
		if decision.Action == resolver.ActionMerge {
			ids = appendUnique(ids, decision.TargetID)
		} else {
			ids = appendUnique(ids, newID)
		}
	}
	return ids
}

func (p *Pipeline) detect(entities []story.Entity, text string) []string {
	d, err := resolver.NewDetector(entities)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Entity detection unavailable")
		return []string{}
	}
	return d.Detect(text)
}

func uidOf(snap story.Snapshot) string {
	if snap.Profile != nil {
		return snap.Profile.UID
	}
	return ""
}

func appendUnique(ids []string, more ...string) []string {
	for _, id := range more {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func draftIndex(msg story.ChatMessage, narrative string) int {
	return slices.IndexFunc(msg.Proposals, func(d story.DraftMemory) bool { return d.Narrative == narrative })
}

func proposedIndex(msg story.ChatMessage, name string) int {
	key := resolver.Key(name)
	return slices.IndexFunc(msg.ProposedEntities, func(e story.ProposedEntity) bool { return resolver.Key(e.Name) == key })
}

// stripDraft removes only the first draft with the narrative.
func stripDraft(msg *story.ChatMessage, narrative string) {
	if i := draftIndex(*msg, narrative); i >= 0 {
		msg.Proposals = slices.Delete(msg.Proposals, i, i+1)
	}
}

func stripProposed(msg *story.ChatMessage, name string) {
	key := resolver.Key(name)
	msg.ProposedEntities = slices.DeleteFunc(msg.ProposedEntities, func(e story.ProposedEntity) bool {
		return resolver.Key(e.Name) == key
	})
}
