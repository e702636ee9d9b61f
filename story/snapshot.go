package story

import "slices"

// Snapshot is the whole in-memory story of one user.
type Snapshot struct {
	Profile          *Profile          `json:"profile,omitempty"`
	Memories         []Memory          `json:"memories"`
	PendingArtifacts []PendingArtifact `json:"pendingArtifacts"`
	Entities         []Entity          `json:"entities"`
	Eras             []Era             `json:"eras"`
	ChatHistory      []ChatMessage     `json:"chatHistory"`
}

// Clone returns a deep copy that shares no slices or pointers with s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Memories:         make([]Memory, len(s.Memories)),
		PendingArtifacts: make([]PendingArtifact, len(s.PendingArtifacts)),
		Entities:         make([]Entity, len(s.Entities)),
		Eras:             slices.Clone(s.Eras),
		ChatHistory:      make([]ChatMessage, len(s.ChatHistory)),
	}
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	for i, m := range s.Memories {
		out.Memories[i] = m.Clone()
	}
	for i, p := range s.PendingArtifacts {
		out.PendingArtifacts[i] = p.Clone()
	}
	for i, e := range s.Entities {
		out.Entities[i] = e.Clone()
	}
	for i, c := range s.ChatHistory {
		out.ChatHistory[i] = c.Clone()
	}
	return out
}

// ActiveMemories returns the memories that have not been soft deleted.
func (s Snapshot) ActiveMemories() []Memory {
	out := make([]Memory, 0, len(s.Memories))
	for _, m := range s.Memories {
		if !m.Deleted {
			out = append(out, m)
		}
	}
	return out
}

// Message returns the index of the chat message with the given id, or -1.
func (s Snapshot) Message(id string) int {
	return slices.IndexFunc(s.ChatHistory, func(c ChatMessage) bool { return c.ID == id })
}

// Clone returns a copy of m that shares no slices or attachment with it.
func (m Memory) Clone() Memory {
	m.EntityIDs = slices.Clone(m.EntityIDs)
	m.EraIDs = slices.Clone(m.EraIDs)
	m.Sources = slices.Clone(m.Sources)
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	return m
}

// Clone returns a copy of e with its own tags and facts.
func (e Entity) Clone() Entity {
	e.HistoryTags = slices.Clone(e.HistoryTags)
	e.Facts = slices.Clone(e.Facts)
	return e
}

// Clone returns a copy of p.
func (p PendingArtifact) Clone() PendingArtifact {
	p.SuggestedEraCategories = slices.Clone(p.SuggestedEraCategories)
	return p
}

// Clone returns a copy of d with its own category and entity lists.
func (d DraftMemory) Clone() DraftMemory {
	d.SuggestedEraCategories = slices.Clone(d.SuggestedEraCategories)
	d.AssociatedEntities = slices.Clone(d.AssociatedEntities)
	return d
}

// Clone returns a deep copy of c, including its proposals.
func (c ChatMessage) Clone() ChatMessage {
	if c.Attachment != nil {
		a := *c.Attachment
		c.Attachment = &a
	}
	if c.Proposals != nil {
		proposals := make([]DraftMemory, len(c.Proposals))
		for i, d := range c.Proposals {
			proposals[i] = d.Clone()
		}
		c.Proposals = proposals
	}
	c.ProposedEntities = slices.Clone(c.ProposedEntities)
	c.Sources = slices.Clone(c.Sources)
	return c
}
