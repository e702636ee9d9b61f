package persist

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/aschepis/backscratcher/lifebook/codec"
	"github.com/aschepis/backscratcher/lifebook/mirror"
	"github.com/aschepis/backscratcher/lifebook/story"
	"github.com/aschepis/backscratcher/lifebook/vault"
)

// profileRecordID is the id of the single profile record.
const profileRecordID = "profile"

// mirrored maps a local collection to its remote name. Collections absent
// here never leave the device.
var mirrored = map[vault.Collection]string{
	vault.CollectionMemories: mirror.CollectionMemories,
	vault.CollectionEntities: mirror.CollectionEntities,
	vault.CollectionEras:     mirror.CollectionEras,
	vault.CollectionProfile:  mirror.CollectionProfile,
}

// fingerprint identifies the plaintext content of one record.
type fingerprint [sha256.Size]byte

func fingerprintOf(rec mirror.Record) fingerprint { return sha256.Sum256(rec.Payload) }

// encodeRecords renders one collection of snap as plaintext mirror records.
// Memory records must go through sealRecords before they leave the device.
func encodeRecords(collection vault.Collection, snap story.Snapshot) ([]mirror.Record, error) {
	switch collection {
	case vault.CollectionMemories:
		return encodeEach(snap.Memories, func(m story.Memory) (string, string) { return m.ID, m.SortDate })
	case vault.CollectionEntities:
		return encodeEach(snap.Entities, func(e story.Entity) (string, string) { return e.ID, e.Name })
	case vault.CollectionEras:
		return encodeEach(snap.Eras, func(e story.Era) (string, string) {
			return e.ID, fmt.Sprintf("%04d", e.StartYear)
		})
	case vault.CollectionProfile:
		if snap.Profile == nil {
			return nil, nil
		}
		return encodeEach([]story.Profile{*snap.Profile}, func(story.Profile) (string, string) {
			return profileRecordID, profileRecordID
		})
	default:
		return nil, fmt.Errorf("collection %q is not mirrored", collection)
	}
}

// sealRecords encrypts the narratives of plaintext memory records exactly as
// the vault does locally.
func sealRecords(c *codec.Codec, records []mirror.Record) ([]mirror.Record, error) {
	memories, err := decodeEach[story.Memory](records)
	if err != nil {
		return nil, err
	}
	sealed, err := vault.SealMemories(c, memories)
	if err != nil {
		return nil, err
	}
	return encodeEach(sealed, func(m story.Memory) (string, string) { return m.ID, m.SortDate })
}

func encodeEach[T any](items []T, keys func(T) (id, sortKey string)) ([]mirror.Record, error) {
	records := make([]mirror.Record, 0, len(items))
	for _, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		id, sortKey := keys(item)
		records = append(records, mirror.Record{ID: id, SortKey: sortKey, Payload: payload})
	}
	return records, nil
}

func decodeEach[T any](records []mirror.Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var item T
		if err := json.Unmarshal(rec.Payload, &item); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", rec.ID, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// decodeMemories decodes, decrypts and orders mirrored memories by sort date.
func decodeMemories(c *codec.Codec, records []mirror.Record) ([]story.Memory, error) {
	memories, err := decodeEach[story.Memory](records)
	if err != nil {
		return nil, err
	}
	memories = vault.OpenMemories(c, memories)
	sort.SliceStable(memories, func(i, j int) bool { return memories[i].SortDate < memories[j].SortDate })
	return memories, nil
}

// mergeByID returns the remote items followed by every local item the remote
// does not have. A record whose mirror write was dropped is still only local,
// and must survive a load from the mirror.
func mergeByID[T any](remote, local []T, id func(T) string) []T {
	seen := make(map[string]bool, len(remote))
	for _, item := range remote {
		seen[id(item)] = true
	}
	out := slices.Clone(remote)
	for _, item := range local {
		if !seen[id(item)] {
			out = append(out, item)
		}
	}
	return out
}
