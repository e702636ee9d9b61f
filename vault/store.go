// Package vault is the authoritative local store. Each user's story lives in
// its own namespace as one JSON record per collection; memory narratives are
// encrypted with the user's codec before they are written.
package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/lifebook/codec"
	"github.com/aschepis/backscratcher/lifebook/story"
	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const table = "vault_records"

// ErrLocalWrite is returned when a record could not be written locally.
var ErrLocalWrite = errors.New("local write failed")

// Collection names one record inside a user's namespace.
type Collection string

const (
	CollectionMemories    Collection = "memories"
	CollectionEntities    Collection = "entities"
	CollectionEras        Collection = "eras"
	CollectionPending     Collection = "pending"
	CollectionChatHistory Collection = "chatHistory"
	CollectionProfile     Collection = "profile"
)

// Collections lists every collection of a snapshot in a fixed order.
func Collections() []Collection {
	return []Collection{
		CollectionProfile,
		CollectionMemories,
		CollectionEntities,
		CollectionEras,
		CollectionPending,
		CollectionChatHistory,
	}
}

// Namespace returns the per-user key prefix.
func Namespace(uid string) string { return "mylife_" + uid }

// Store reads and writes vault records.
type Store struct {
	db     *sql.DB
	codec  *codec.Codec
	logger zerolog.Logger
	now    func() time.Time

	maxRetries uint64
}

// NewStore creates a Store over an opened vault database.
func NewStore(db *sql.DB, c *codec.Codec, logger zerolog.Logger) *Store {
	return &Store{
		db:         db,
		codec:      c,
		logger:     logger.With().Str("component", "vault").Logger(),
		now:        time.Now,
		maxRetries: 5,
	}
}

// Codec returns the codec used to seal memory narratives.
func (s *Store) Codec() *codec.Codec { return s.codec }

// Save writes one collection of snap.
func (s *Store) Save(ctx context.Context, uid string, collection Collection, snap story.Snapshot) error {
	switch collection {
	case CollectionProfile:
		if snap.Profile == nil {
			return nil
		}
		return s.SaveProfile(ctx, uid, *snap.Profile)
	case CollectionMemories:
		return s.SaveMemories(ctx, uid, snap.Memories)
	case CollectionEntities:
		return s.SaveEntities(ctx, uid, snap.Entities)
	case CollectionEras:
		return s.SaveEras(ctx, uid, snap.Eras)
	case CollectionPending:
		return s.SavePending(ctx, uid, snap.PendingArtifacts)
	case CollectionChatHistory:
		return s.SaveChatHistory(ctx, uid, snap.ChatHistory)
	default:
		return fmt.Errorf("%w: unknown collection %q", ErrLocalWrite, collection)
	}
}

// SaveMemories writes the memory collection with narratives encrypted.
func (s *Store) SaveMemories(ctx context.Context, uid string, memories []story.Memory) error {
	sealed, err := SealMemories(s.codec, memories)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLocalWrite, err)
	}
	return s.put(ctx, uid, CollectionMemories, sealed)
}

// SaveEntities writes the entity collection.
func (s *Store) SaveEntities(ctx context.Context, uid string, entities []story.Entity) error {
	return s.put(ctx, uid, CollectionEntities, entities)
}

// SaveEras writes the era collection.
func (s *Store) SaveEras(ctx context.Context, uid string, eras []story.Era) error {
	return s.put(ctx, uid, CollectionEras, eras)
}

// SavePending writes the pending artifact collection.
func (s *Store) SavePending(ctx context.Context, uid string, pending []story.PendingArtifact) error {
	return s.put(ctx, uid, CollectionPending, pending)
}

// SaveChatHistory writes the chat log.
func (s *Store) SaveChatHistory(ctx context.Context, uid string, chat []story.ChatMessage) error {
	return s.put(ctx, uid, CollectionChatHistory, chat)
}

// SaveProfile overwrites the profile.
func (s *Store) SaveProfile(ctx context.Context, uid string, profile story.Profile) error {
	return s.put(ctx, uid, CollectionProfile, profile)
}

// LoadMemories reads memories and decrypts their narratives.
func (s *Store) LoadMemories(ctx context.Context, uid string) ([]story.Memory, error) {
	var memories []story.Memory
	if _, err := s.get(ctx, uid, CollectionMemories, &memories); err != nil {
		return nil, err
	}
	return OpenMemories(s.codec, memories), nil
}

// LoadEntities reads the entity collection.
func (s *Store) LoadEntities(ctx context.Context, uid string) ([]story.Entity, error) {
	var entities []story.Entity
	_, err := s.get(ctx, uid, CollectionEntities, &entities)
	return orEmpty(entities), err
}

// LoadEras reads the era collection.
func (s *Store) LoadEras(ctx context.Context, uid string) ([]story.Era, error) {
	var eras []story.Era
	_, err := s.get(ctx, uid, CollectionEras, &eras)
	return orEmpty(eras), err
}

// LoadPending reads the pending artifact collection.
func (s *Store) LoadPending(ctx context.Context, uid string) ([]story.PendingArtifact, error) {
	var pending []story.PendingArtifact
	_, err := s.get(ctx, uid, CollectionPending, &pending)
	return orEmpty(pending), err
}

// LoadChatHistory reads the chat log.
func (s *Store) LoadChatHistory(ctx context.Context, uid string) ([]story.ChatMessage, error) {
	var chat []story.ChatMessage
	_, err := s.get(ctx, uid, CollectionChatHistory, &chat)
	return orEmpty(chat), err
}

// LoadProfile reads the profile. It returns nil when none was saved.
func (s *Store) LoadProfile(ctx context.Context, uid string) (*story.Profile, error) {
	var profile story.Profile
	found, err := s.get(ctx, uid, CollectionProfile, &profile)
	if err != nil || !found {
		return nil, err
	}
	return &profile, nil
}

// LoadSnapshot reads every collection of uid.
func (s *Store) LoadSnapshot(ctx context.Context, uid string) (story.Snapshot, error) {
	var snap story.Snapshot
	var err error
	if snap.Profile, err = s.LoadProfile(ctx, uid); err != nil {
		return story.Snapshot{}, err
	}
	if snap.Memories, err = s.LoadMemories(ctx, uid); err != nil {
		return story.Snapshot{}, err
	}
	if snap.Entities, err = s.LoadEntities(ctx, uid); err != nil {
		return story.Snapshot{}, err
	}
	if snap.Eras, err = s.LoadEras(ctx, uid); err != nil {
		return story.Snapshot{}, err
	}
	if snap.PendingArtifacts, err = s.LoadPending(ctx, uid); err != nil {
		return story.Snapshot{}, err
	}
	if snap.ChatHistory, err = s.LoadChatHistory(ctx, uid); err != nil {
		return story.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) put(ctx context.Context, uid string, collection Collection, value any) error {
	s.logger.Debug().
		Str("method", "put").
		Str("uid", uid).
		Str("collection", string(collection)).
		Msg("called")

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %w", ErrLocalWrite, collection, err)
	}

	query := sq.Insert(table).
		Columns("namespace", "key", "payload", "updated_at").
		Values(Namespace(uid), string(collection), string(payload), s.now().UnixMilli()).
		Suffix("ON CONFLICT(namespace, key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("%w: build query: %w", ErrLocalWrite, err)
	}

	operation := func() error {
		_, err := s.db.ExecContext(ctx, queryStr, args...)
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn().Err(err).Dur("wait", wait).Str("collection", string(collection)).Msg("Vault busy, retrying write")
	}
	if err := backoff.RetryNotify(operation, s.retryPolicy(ctx), notify); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrLocalWrite, collection, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, uid string, collection Collection, dest any) (bool, error) {
	queryStr, args, err := sq.Select("payload").
		From(table).
		Where(sq.Eq{"namespace": Namespace(uid), "key": string(collection)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	var payload string
	err = s.db.QueryRowContext(ctx, queryStr, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", collection, err)
	}
	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", collection, err)
	}
	return true, nil
}

func (s *Store) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 20 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(eb, s.maxRetries), ctx)
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
