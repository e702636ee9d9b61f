// Package resolver decides whether a candidate entity is new or a mention of
// one the user already has, and applies that decision to an entity set.
// Both steps are pure: callers own the authoritative entity collection.
package resolver

import (
	"slices"
	"strings"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/lifebook/story"
)

// UnknownName replaces an empty candidate name.
const UnknownName = "Unknown"

// Action is the outcome of resolving a candidate.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionMerge  Action = "MERGE"
)

// Candidate is an entity mention proposed by the extraction collaborator or the user.
type Candidate struct {
	Name         string
	Type         string
	Relationship string
	Details      string
	Metadata     story.EntityMetadata
}

// FromProposal converts a proposed entity into a candidate.
func FromProposal(p story.ProposedEntity) Candidate {
	return Candidate{
		Name:         p.Name,
		Type:         string(p.Type),
		Relationship: p.Relationship,
		Details:      p.Details,
		Metadata:     p.Metadata,
	}
}

// Decision says what to do with a candidate.
type Decision struct {
	Action   Action
	TargetID string // set for MERGE
	Name     string // display name to store on CREATE
}

// Key normalizes a name for matching.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve matches candidate against entities by normalized name. The type hint
// plays no part in matching.
func Resolve(entities []story.Entity, candidate Candidate) Decision {
	name := strings.TrimSpace(candidate.Name)
	if name == "" {
		return Decision{Action: ActionCreate, Name: UnknownName}
	}
	key := Key(name)
	for _, e := range entities {
		if Key(e.Name) == key {
			return Decision{Action: ActionMerge, TargetID: e.ID, Name: e.Name}
		}
	}
	return Decision{Action: ActionCreate, Name: name}
}

// Apply returns a new entity set with decision applied. newID is used only for
// CREATE. The input slice is not modified.
func Apply(entities []story.Entity, uid string, candidate Candidate, decision Decision, newID string) []story.Entity {
	out := make([]story.Entity, len(entities), len(entities)+1)
	for i, e := range entities {
		out[i] = e.Clone()
	}

	details := strings.TrimSpace(candidate.Details)

	if decision.Action == ActionMerge {
		idx := slices.IndexFunc(out, func(e story.Entity) bool { return e.ID == decision.TargetID })
		if idx < 0 {
			return out
		}
		target := &out[idx]
		if details != "" && !slices.Contains(target.HistoryTags, details) {
			target.HistoryTags = append(target.HistoryTags, details)
			target.Facts = append(target.Facts, story.ClassifyDetail(details))
		}
		if target.Relationship == "" && candidate.Relationship != "" {
			target.Relationship = candidate.Relationship
		}
		if target.Type == "" {
			target.Type = story.ParseEntityType(candidate.Type)
		}
		target.Metadata = mergeMetadata(target.Metadata, candidate.Metadata)
		return out
	}

	name := decision.Name
	if name == "" {
		name = UnknownName
	}
	created := story.Entity{
		ID:           newID,
		UserID:       uid,
		Name:         name,
		Type:         story.ParseEntityType(candidate.Type),
		Relationship: candidate.Relationship,
		HistoryTags:  []string{},
		Metadata:     candidate.Metadata,
	}
	if details != "" {
		created.HistoryTags = append(created.HistoryTags, details)
		created.Facts = []story.Fact{story.ClassifyDetail(details)}
	}
	return append(out, created)
}

// mergeMetadata merges field by field; non-empty candidate fields win.
func mergeMetadata(existing, candidate story.EntityMetadata) story.EntityMetadata {
	merged := existing
	if err := mergo.Merge(&merged, candidate, mergo.WithOverride); err != nil {
		return existing
	}
	return merged
}
