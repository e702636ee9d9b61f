// Package storystore holds the authoritative in-memory story of one user.
// Every operation computes a new snapshot, swaps it in under a mutex and hands
// it to persistence without waiting for the write.
package storystore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/lifebook/era"
	"github.com/aschepis/backscratcher/lifebook/extraction"
	"github.com/aschepis/backscratcher/lifebook/persist"
	"github.com/aschepis/backscratcher/lifebook/pipeline"
	"github.com/aschepis/backscratcher/lifebook/story"
)

var (
	// ErrNotFound is returned when an operation names a record that does not exist.
	ErrNotFound = errors.New("storystore: not found")
	// ErrInvalidProfile is returned when profile input fails validation.
	ErrInvalidProfile = errors.New("storystore: invalid profile")
)

// Persister durably stores snapshots.
type Persister interface {
	Submit(uid string, snap story.Snapshot) error
	Load(ctx context.Context, uid string) (story.Snapshot, error)
	Flush(ctx context.Context) error
}

// Store is the story aggregate of one user.
type Store struct {
	uid       string
	persister Persister
	pipeline  *pipeline.Pipeline
	validate  *validator.Validate
	now       func() time.Time
	logger    zerolog.Logger

	mu   sync.Mutex
	snap story.Snapshot
}

// Option configures a Store.
type Option func(*Store)

// WithPipeline overrides the confirmation pipeline.
func WithPipeline(p *pipeline.Pipeline) Option { return func(s *Store) { s.pipeline = p } }

// WithClock overrides the clock used for chat timestamps.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger.With().Str("component", "storystore").Logger() }
}

// Open loads the persisted story of uid and returns a Store starting from it.
func Open(ctx context.Context, uid string, persister Persister, opts ...Option) (*Store, error) {
	if uid == "" {
		return nil, fmt.Errorf("storystore: empty uid")
	}
	s := &Store{
		uid:       uid,
		persister: persister,
		validate:  validator.New(),
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pipeline == nil {
		s.pipeline = pipeline.New(pipeline.WithLogger(s.logger))
	}

	snap, err := persister.Load(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("load story %s: %w", uid, err)
	}
	s.snap = snap
	s.logger.Info().
		Str("uid", uid).
		Int("memories", len(snap.Memories)).
		Int("entities", len(snap.Entities)).
		Msg("Story opened")
	return s, nil
}

// UID returns the owner of the story.
func (s *Store) UID() string { return s.uid }

// Snapshot returns a deep copy of the current story.
func (s *Store) Snapshot() story.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// Close waits for every submitted snapshot to be persisted.
func (s *Store) Close(ctx context.Context) error {
	s.logger.Debug().Str("method", "Close").Msg("called")
	if err := s.persister.Flush(ctx); err != nil {
		return fmt.Errorf("flush story %s: %w", s.uid, err)
	}
	return nil
}

// commitLocked installs next and submits it. Must be called with s.mu held.
func (s *Store) commitLocked(next story.Snapshot) {
	s.snap = next
	if err := s.persister.Submit(s.uid, next); err != nil {
		if errors.Is(err, persist.ErrClosed) {
			s.logger.Warn().Msg("Persistence closed; change kept in memory only")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to submit snapshot")
	}
}

// apply runs a pipeline transition and commits it when it changed anything.
func (s *Store) apply(f func(story.Snapshot) pipeline.Result) pipeline.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := f(s.snap)
	if res.Changed {
		s.commitLocked(res.Snapshot)
	}
	return res
}

// AppendChatMessage adds msg to the end of the chat log, filling in a missing
// id and timestamp, and returns the stored message.
func (s *Store) AppendChatMessage(msg story.ChatMessage) story.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg = s.stamp(msg)
	next := s.snap.Clone()
	next.ChatHistory = append(next.ChatHistory, msg)
	s.commitLocked(next)
	return msg.Clone()
}

func (s *Store) stamp(msg story.ChatMessage) story.ChatMessage {
	if msg.ID == "" {
		msg.ID = s.pipeline.NewID()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = s.now().UnixMilli()
	}
	return msg.Clone()
}

// IngestCandidateFragments records an extraction result as the biographer's
// reply to the message requestID. The reply is placed right after the request
// and any replies already given to it, so results that arrive late still land
// next to what asked for them. An unknown request id appends the reply.
// It returns the reply message, whose id confirmations refer to.
func (s *Store) IngestCandidateFragments(requestID string, res extraction.Result) story.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply := s.stamp(story.ChatMessage{
		Role:             story.RoleBiographer,
		Text:             res.Response,
		Proposals:        slices.Clone(res.Drafts),
		ProposedEntities: slices.Clone(res.Entities),
		Sources:          slices.Clone(res.Sources),
		Topic:            res.Topic,
	})

	next := s.snap.Clone()
	at := len(next.ChatHistory)
	if i := next.Message(requestID); i >= 0 {
		at = i + 1
		for at < len(next.ChatHistory) && next.ChatHistory[at].Role == story.RoleBiographer {
			at++
		}
	} else {
		s.logger.Warn().Str("requestID", requestID).Msg("Requesting message not found; appending reply")
	}
	next.ChatHistory = slices.Insert(next.ChatHistory, at, reply)
	s.commitLocked(next)

	s.logger.Debug().
		Str("method", "IngestCandidateFragments").
		Str("requestID", requestID).
		Int("drafts", len(res.Drafts)).
		Int("entities", len(res.Entities)).
		Bool("degraded", res.Degraded).
		Msg("called")
	return reply.Clone()
}

// AddPendingArtifact records a media-analysis result for the upload message
// messageID. A non-empty follow-up question from the analysis is appended as a
// biographer message. It returns the pending artifact.
func (s *Store) AddPendingArtifact(messageID string, attachment story.Attachment, res extraction.MediaResult) story.PendingArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := res.Pending(s.pipeline.NewID(), messageID, attachment)
	next := s.snap.Clone()
	next.PendingArtifacts = append(next.PendingArtifacts, pending)
	if res.BiographerCuriosity != "" {
		next.ChatHistory = append(next.ChatHistory, s.stamp(story.ChatMessage{
			Role: story.RoleBiographer,
			Text: res.BiographerCuriosity,
		}))
	}
	s.commitLocked(next)
	return pending.Clone()
}

// ConfirmDraft promotes draft, proposed on message messageID, to a memory.
// It returns the new memory id, or "" when the draft had already been handled.
func (s *Store) ConfirmDraft(messageID string, draft story.DraftMemory) string {
	return s.apply(func(snap story.Snapshot) pipeline.Result {
		return s.pipeline.ConfirmDraft(snap, messageID, draft)
	}).MemoryID
}

// ConfirmPendingArtifact promotes the pending artifact id to a memory.
func (s *Store) ConfirmPendingArtifact(id string) (string, error) {
	res := s.apply(func(snap story.Snapshot) pipeline.Result {
		return s.pipeline.ConfirmPendingArtifact(snap, id)
	})
	if !res.Changed {
		return "", fmt.Errorf("pending artifact %s: %w", id, ErrNotFound)
	}
	return res.MemoryID, nil
}

// ConfirmProposedEntity resolves a proposed entity into the entity set and
// returns the id it was merged into or created as.
func (s *Store) ConfirmProposedEntity(messageID string, proposal story.ProposedEntity) string {
	return s.apply(func(snap story.Snapshot) pipeline.Result {
		return s.pipeline.ConfirmProposedEntity(snap, messageID, proposal)
	}).EntityID
}

// DiscardDraft drops draft from message messageID. It reports whether anything was removed.
func (s *Store) DiscardDraft(messageID string, draft story.DraftMemory) bool {
	return s.apply(func(snap story.Snapshot) pipeline.Result {
		return s.pipeline.DiscardDraft(snap, messageID, draft)
	}).Changed
}

// DiscardPendingArtifact drops the pending artifact id.
func (s *Store) DiscardPendingArtifact(id string) bool {
	return s.apply(func(snap story.Snapshot) pipeline.Result {
		return s.pipeline.DiscardPendingArtifact(snap, id)
	}).Changed
}

// DiscardProposedEntity drops the proposed entity called name from message messageID.
func (s *Store) DiscardProposedEntity(messageID, name string) bool {
	return s.apply(func(snap story.Snapshot) pipeline.Result {
		return s.pipeline.DiscardProposedEntity(snap, messageID, name)
	}).Changed
}

// memoryIndex returns the index of the live memory id, or -1.
func memoryIndex(snap story.Snapshot, id string) int {
	return slices.IndexFunc(snap.Memories, func(m story.Memory) bool { return m.ID == id && !m.Deleted })
}

// DeleteMemory soft deletes memory id.
func (s *Store) DeleteMemory(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := memoryIndex(s.snap, id)
	if i < 0 {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	next := s.snap.Clone()
	next.Memories[i].Deleted = true
	next.Memories[i].UpdatedAt = s.now()
	s.commitLocked(next)
	return nil
}

// MemoryEdit changes a memory's text or date. Nil fields are left alone.
type MemoryEdit struct {
	Narrative *string
	SortDate  *string
	Location  *string
}

// EditMemory applies edit to memory id. A new date moves the memory into the
// eras containing it.
func (s *Store) EditMemory(id string, edit MemoryEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := memoryIndex(s.snap, id)
	if i < 0 {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	next := s.snap.Clone()
	m := &next.Memories[i]
	if edit.Narrative != nil {
		m.Narrative = *edit.Narrative
	}
	if edit.Location != nil {
		m.Location = *edit.Location
	}
	if edit.SortDate != nil {
		m.SortDate = *edit.SortDate
		m.EraIDs = era.Assign(next.Eras, m.SortDate)
	}
	m.UpdatedAt = s.now()
	s.commitLocked(next)
	return nil
}

// SetProfile validates and overwrites the profile. The uid is always the
// store's own.
func (s *Store) SetProfile(p story.Profile) error {
	p.UID = s.uid
	if err := s.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.snap.Clone()
	next.Profile = &p
	s.commitLocked(next)
	return nil
}
