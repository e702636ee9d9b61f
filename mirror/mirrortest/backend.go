// Package mirrortest provides an in-process mirror backend for tests.
package mirrortest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/aschepis/backscratcher/lifebook/mirror"
)

// ErrInjected is returned for records or collections marked as failing.
var ErrInjected = errors.New("mirrortest: injected failure")

// Backend keeps records in memory and can be told to fail.
type Backend struct {
	mu       sync.Mutex
	records  map[string]map[string]mirror.Record
	failIDs  map[string]bool
	failList bool
	down     bool
	puts     int
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{records: map[string]map[string]mirror.Record{}, failIDs: map[string]bool{}}
}

// FailRecord makes every Put of id fail.
func (b *Backend) FailRecord(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failIDs[id] = true
}

// FailList makes List fail.
func (b *Backend) FailList(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failList = fail
}

// SetDown makes every call fail.
func (b *Backend) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// Puts returns how many Put calls reached the backend.
func (b *Backend) Puts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts
}

func key(uid, collection string) string { return uid + "/" + collection }

func (b *Backend) Put(ctx context.Context, uid, collection string, rec mirror.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if b.down || b.failIDs[rec.ID] {
		return ErrInjected
	}
	k := key(uid, collection)
	if b.records[k] == nil {
		b.records[k] = map[string]mirror.Record{}
	}
	b.records[k][rec.ID] = rec
	return nil
}

func (b *Backend) List(ctx context.Context, uid, collection string) ([]mirror.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down || b.failList {
		return nil, ErrInjected
	}
	out := make([]mirror.Record, 0, len(b.records[key(uid, collection)]))
	for _, rec := range b.records[key(uid, collection)] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortKey != out[j].SortKey {
			return out[i].SortKey < out[j].SortKey
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
