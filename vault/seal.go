package vault

import (
	"fmt"

	"github.com/aschepis/backscratcher/lifebook/codec"
	"github.com/aschepis/backscratcher/lifebook/story"
)

// SealMemories returns copies of memories with their narratives encrypted.
// Only the narrative is sealed; every other field stays readable for sorting
// and era assignment.
func SealMemories(c *codec.Codec, memories []story.Memory) ([]story.Memory, error) {
	out := make([]story.Memory, len(memories))
	for i, m := range memories {
		sealed, err := c.EncryptField(m.Narrative)
		if err != nil {
			return nil, fmt.Errorf("encrypt memory %s: %w", m.ID, err)
		}
		m = m.Clone()
		m.Narrative = sealed
		out[i] = m
	}
	return out, nil
}

// OpenMemories decrypts narratives in place. Legacy plaintext is kept as is.
func OpenMemories(c *codec.Codec, memories []story.Memory) []story.Memory {
	for i := range memories {
		memories[i].Narrative = c.DecryptField(memories[i].Narrative)
	}
	return orEmpty(memories)
}
