// Package persist writes story snapshots to the local vault and, when one is
// configured, mirrors them to a remote store.
//
// Writes are asynchronous. Each (user, collection) pair has its own FIFO
// worker, so an older snapshot of a collection is always written before a
// newer one while other collections proceed independently. The local vault is
// authoritative; mirror failures are logged and dropped. Only records whose
// content changed since they were last mirrored are pushed; Resync pushes all.
package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aschepis/backscratcher/lifebook/codec"
	"github.com/aschepis/backscratcher/lifebook/mirror"
	"github.com/aschepis/backscratcher/lifebook/story"
	"github.com/aschepis/backscratcher/lifebook/vault"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("persistence layer closed")

// Notifier is told about local write failures, which are the only
// persistence failures the user should see.
type Notifier interface {
	CouldNotSave(collection string, err error)
}

// Layer owns the background writers for every user it has seen.
type Layer struct {
	local    *vault.Store
	mirror   *mirror.Guarded
	codec    *codec.Codec
	notifier Notifier
	logger   zerolog.Logger

	mu      sync.Mutex
	workers map[workerKey]*worker
	closed  bool
	lastErr error

	pushMu sync.Mutex
	pushed map[workerKey]map[string]fingerprint
}

type workerKey struct {
	uid        string
	collection vault.Collection
}

// Option configures a Layer.
type Option func(*Layer)

// WithMirror enables best-effort mirroring through m.
func WithMirror(m *mirror.Guarded) Option {
	return func(l *Layer) { l.mirror = m }
}

// WithNotifier sets who hears about local write failures.
func WithNotifier(n Notifier) Option {
	return func(l *Layer) { l.notifier = n }
}

// New creates a Layer over the local store.
func New(local *vault.Store, logger zerolog.Logger, opts ...Option) *Layer {
	l := &Layer{
		local:   local,
		codec:   local.Codec(),
		logger:  logger.With().Str("component", "persist").Logger(),
		workers: make(map[workerKey]*worker),
		pushed:  make(map[workerKey]map[string]fingerprint),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit queues every collection of snap for writing and returns at once.
func (l *Layer) Submit(uid string, snap story.Snapshot) error {
	if uid == "" {
		return fmt.Errorf("submit: empty uid")
	}
	snap = snap.Clone()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	for _, collection := range vault.Collections() {
		l.workerLocked(uid, collection).enqueue(task{uid: uid, snap: snap})
	}
	return nil
}

// workerLocked returns the worker for (uid, collection), starting it if needed.
func (l *Layer) workerLocked(uid string, collection vault.Collection) *worker {
	key := workerKey{uid: uid, collection: collection}
	w, ok := l.workers[key]
	if !ok {
		w = newWorker(uid, collection)
		l.workers[key] = w
		go w.run(l.write)
	}
	return w
}

// Flush waits until every write submitted before the call has finished.
func (l *Layer) Flush(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	barriers := make([]chan struct{}, 0, len(l.workers))
	for _, w := range l.workers {
		b := make(chan struct{})
		w.enqueue(task{barrier: b})
		barriers = append(barriers, b)
	}
	l.mu.Unlock()

	for _, b := range barriers {
		select {
		case <-b:
		case <-ctx.Done():
			return fmt.Errorf("flush: %w", ctx.Err())
		}
	}
	return nil
}

// Close flushes pending writes and stops every worker. Writes still queued
// when ctx expires are completed before the workers exit.
func (l *Layer) Close(ctx context.Context) error {
	flushErr := l.Flush(ctx)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return flushErr
	}
	l.closed = true
	workers := make([]*worker, 0, len(l.workers))
	for _, w := range l.workers {
		workers = append(workers, w)
	}
	l.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	for _, w := range workers {
		<-w.done
	}
	return flushErr
}

// LastError returns the most recent local write failure, or nil.
func (l *Layer) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Layer) write(collection vault.Collection, t task) {
	ctx := context.Background()
	if err := l.local.Save(ctx, t.uid, collection, t.snap); err != nil {
		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()
		l.logger.Error().Err(err).Str("uid", t.uid).Str("collection", string(collection)).Msg("Local write failed")
		if l.notifier != nil {
			l.notifier.CouldNotSave(string(collection), err)
		}
	}
	l.push(ctx, t.uid, collection, t.snap, false)
}

// push mirrors one collection. Unless full is set, records already mirrored
// with the same content are skipped. Failures are logged and reported.
func (l *Layer) push(ctx context.Context, uid string, collection vault.Collection, snap story.Snapshot, full bool) mirror.Report {
	remote, ok := mirrored[collection]
	if !ok || !mirror.ShouldMirror(uid, l.mirror) {
		return mirror.Report{}
	}
	records, err := encodeRecords(collection, snap)
	if err != nil {
		l.logger.Warn().Err(err).Str("collection", remote).Msg("Skipping mirror write")
		return mirror.Report{Failed: []mirror.RecordError{{ID: remote, Err: err}}}
	}

	key := workerKey{uid: uid, collection: collection}
	prints := make(map[string]fingerprint, len(records))
	l.pushMu.Lock()
	last := l.pushed[key]
	changed := records[:0]
	for _, rec := range records {
		fp := fingerprintOf(rec)
		prints[rec.ID] = fp
		if full || last[rec.ID] != fp {
			changed = append(changed, rec)
		}
	}
	l.pushMu.Unlock()
	if len(changed) == 0 {
		return mirror.Report{}
	}

	outgoing := changed
	if collection == vault.CollectionMemories {
		if outgoing, err = sealRecords(l.codec, changed); err != nil {
			l.logger.Warn().Err(err).Str("collection", remote).Msg("Skipping mirror write")
			return mirror.Report{Failed: []mirror.RecordError{{ID: remote, Err: err}}}
		}
	}
	report := l.mirror.Upsert(ctx, uid, remote, outgoing)

	failed := make(map[string]bool, len(report.Failed))
	for _, f := range report.Failed {
		failed[f.ID] = true
	}
	l.pushMu.Lock()
	defer l.pushMu.Unlock()
	if l.pushed[key] == nil {
		l.pushed[key] = make(map[string]fingerprint, len(changed))
	}
	for _, rec := range changed {
		if failed[rec.ID] {
			delete(l.pushed[key], rec.ID)
			continue
		}
		l.pushed[key][rec.ID] = prints[rec.ID]
	}
	l.logger.Debug().
		Str("collection", remote).
		Int("records", len(records)).
		Int("pushed", len(changed)).
		Int("failed", len(report.Failed)).
		Msg("Mirrored changed records")
	return report
}

// Resync pushes every mirrored collection of snap synchronously and returns
// the joined per-record failures.
func (l *Layer) Resync(ctx context.Context, uid string, snap story.Snapshot) error {
	if !mirror.ShouldMirror(uid, l.mirror) {
		return nil
	}
	var errs []error
	for _, collection := range vault.Collections() {
		if _, ok := mirrored[collection]; !ok {
			continue
		}
		if err := l.push(ctx, uid, collection, snap, true).Err(); err != nil {
			errs = append(errs, fmt.Errorf("resync %s: %w", collection, err))
		}
	}
	return errors.Join(errs...)
}

// Load returns the persisted snapshot of uid. Mirrored collections are read
// from the mirror when it answers with records and merged by id with the
// local vault, whose records the mirror is missing are kept. Chat history and
// pending artifacts are always local.
func (l *Layer) Load(ctx context.Context, uid string) (story.Snapshot, error) {
	snap, err := l.local.LoadSnapshot(ctx, uid)
	if err != nil {
		return story.Snapshot{}, fmt.Errorf("load local snapshot: %w", err)
	}
	if !mirror.ShouldMirror(uid, l.mirror) {
		return snap, nil
	}

	if records, ok := l.list(ctx, uid, mirror.CollectionMemories); ok {
		if memories, err := decodeMemories(l.codec, records); err == nil {
			snap.Memories = mergeByID(memories, snap.Memories, func(m story.Memory) string { return m.ID })
			sort.SliceStable(snap.Memories, func(i, j int) bool { return snap.Memories[i].SortDate < snap.Memories[j].SortDate })
		} else {
			l.logger.Warn().Err(err).Msg("Mirrored memories unreadable, using local copy")
		}
	}
	if records, ok := l.list(ctx, uid, mirror.CollectionEntities); ok {
		if entities, err := decodeEach[story.Entity](records); err == nil {
			snap.Entities = mergeByID(entities, snap.Entities, func(e story.Entity) string { return e.ID })
		} else {
			l.logger.Warn().Err(err).Msg("Mirrored entities unreadable, using local copy")
		}
	}
	if records, ok := l.list(ctx, uid, mirror.CollectionEras); ok {
		if eras, err := decodeEach[story.Era](records); err == nil {
			snap.Eras = mergeByID(eras, snap.Eras, func(e story.Era) string { return e.ID })
			sort.SliceStable(snap.Eras, func(i, j int) bool { return snap.Eras[i].StartYear < snap.Eras[j].StartYear })
		} else {
			l.logger.Warn().Err(err).Msg("Mirrored eras unreadable, using local copy")
		}
	}
	if records, ok := l.list(ctx, uid, mirror.CollectionProfile); ok {
		if profiles, err := decodeEach[story.Profile](records); err == nil {
			snap.Profile = &profiles[0]
		} else {
			l.logger.Warn().Err(err).Msg("Mirrored profile unreadable, using local copy")
		}
	}
	return snap, nil
}

// list reads a mirrored collection. It reports false on error or when the
// mirror holds nothing, so the caller keeps the local copy.
func (l *Layer) list(ctx context.Context, uid, collection string) ([]mirror.Record, bool) {
	records, err := l.mirror.List(ctx, uid, collection)
	if err != nil {
		l.logger.Warn().Err(err).Str("collection", collection).Msg("Mirror read failed, using local copy")
		return nil, false
	}
	return records, len(records) > 0
}
