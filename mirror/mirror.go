// Package mirror pushes copies of a user's records to an optional remote store.
// The remote is never authoritative: writes are best effort per record and a
// failing remote is skipped rather than allowed to block the local path.
package mirror

import (
	"context"
	"encoding/json"

	"github.com/aschepis/backscratcher/lifebook/identity"
)

// Mirrored collections. Chat history and pending artifacts stay on the device.
const (
	CollectionMemories = "memories"
	CollectionEntities = "entities"
	CollectionEras     = "eras"
	CollectionProfile  = "profile"
)

// Record is one remote document. SortKey orders List results.
type Record struct {
	ID      string
	SortKey string
	Payload json.RawMessage
}

// Backend is a remote document store keyed by (uid, collection, id).
// Put is an upsert: the whole record is replaced.
type Backend interface {
	Put(ctx context.Context, uid, collection string, rec Record) error
	List(ctx context.Context, uid, collection string) ([]Record, error)
}

// ShouldMirror reports whether records of uid may leave the device.
// Local vault identities are never mirrored.
func ShouldMirror(uid string, m *Guarded) bool {
	return m != nil && uid != "" && !identity.IsLocalVault(uid)
}
