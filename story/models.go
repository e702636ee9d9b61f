// Package story holds the data model of a life story: the profile, the
// entities and eras it references, confirmed memories, the candidate fragments
// still awaiting confirmation, and the chat log they came from.
package story

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Tone is the narration style the biographer uses with the user.
type Tone string

const (
	ToneConcise   Tone = "concise"
	ToneElaborate Tone = "elaborate"
)

// Profile describes the subject of the story. One per user, overwritten, never deleted.
type Profile struct {
	UID         string `json:"uid" validate:"required"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	BirthYear   int    `json:"birthYear" validate:"gte=1850,lte=2200"`
	BirthCity   string `json:"birthCity"`
	Onboarded   bool   `json:"onboarded"`
	Tone        Tone   `json:"preferredTone,omitempty" validate:"omitempty,oneof=concise elaborate"`
}

// EntityType is the closed set of things an entity can be.
type EntityType string

const (
	EntityPerson   EntityType = "PERSON"
	EntityPlace    EntityType = "PLACE"
	EntityObject   EntityType = "OBJECT"
	EntityDream    EntityType = "DREAM"
	EntityVision   EntityType = "VISION"
	EntitySkill    EntityType = "SKILL"
	EntityPassion  EntityType = "PASSION"
	EntityLike     EntityType = "LIKE"
	EntityThought  EntityType = "THOUGHT"
	EntityIdentity EntityType = "IDENTITY"
)

var entityTypes = map[EntityType]struct{}{
	EntityPerson: {}, EntityPlace: {}, EntityObject: {}, EntityDream: {}, EntityVision: {},
	EntitySkill: {}, EntityPassion: {}, EntityLike: {}, EntityThought: {}, EntityIdentity: {},
}

// ParseEntityType maps free-form input onto EntityType. Unknown input is a person.
func ParseEntityType(s string) EntityType {
	t := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := entityTypes[t]; ok {
		return t
	}
	return EntityPerson
}

// EntityMetadata is structured data about an entity, merged field by field.
type EntityMetadata struct {
	BirthDate  string `json:"birthDate,omitempty"`
	DeathDate  string `json:"deathDate,omitempty"`
	BirthPlace string `json:"birthPlace,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Entity is a recurring person, place or concept referenced by memories.
type Entity struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Name         string         `json:"name"`
	Type         EntityType     `json:"type"`
	Relationship string         `json:"relationship,omitempty"`
	LineageOf    string         `json:"lineageOf,omitempty"` // weak reference, never cascades
	HistoryTags  []string       `json:"historyTags"`
	Facts        []Fact         `json:"facts,omitempty"`
	Metadata     EntityMetadata `json:"metadata"`
	Retired      bool           `json:"retired,omitempty"`
}

// FactsOf returns the entity's facts of the given kind in insertion order.
func (e Entity) FactsOf(kind FactKind) []Fact {
	var out []Fact
	for _, f := range e.Facts {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// EraCategory scopes eras: at most one open era per category.
type EraCategory string

const (
	EraPersonal     EraCategory = "personal"
	EraProfessional EraCategory = "professional"
	EraLocation     EraCategory = "location"
)

// ParseEraCategory reports whether s names a known category.
func ParseEraCategory(s string) (EraCategory, bool) {
	switch c := EraCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case EraPersonal, EraProfessional, EraLocation:
		return c, true
	}
	return "", false
}

// EndYear is either a concrete year or the open-ended "present".
type EndYear struct {
	Year    int
	Present bool
}

// Present returns the open-ended end year.
func Present() EndYear { return EndYear{Present: true} }

// Through returns a closed end year.
func Through(year int) EndYear { return EndYear{Year: year} }

func (y EndYear) String() string {
	if y.Present {
		return "present"
	}
	return fmt.Sprintf("%d", y.Year)
}

// MarshalJSON encodes "present" as a string and concrete years as numbers.
func (y EndYear) MarshalJSON() ([]byte, error) {
	if y.Present {
		return []byte(`"present"`), nil
	}
	return json.Marshal(y.Year)
}

// UnmarshalJSON accepts a number, a numeric string, or "present".
func (y *EndYear) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*y = Through(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("end year: %w", err)
	}
	if strings.EqualFold(strings.TrimSpace(s), "present") {
		*y = Present()
		return nil
	}
	year, ok := YearOf(s)
	if !ok {
		return fmt.Errorf("end year: unrecognized value %q", s)
	}
	*y = Through(year)
	return nil
}

// Era is a labeled, category-scoped time interval.
type Era struct {
	ID         string      `json:"id"`
	Label      string      `json:"label"`
	Category   EraCategory `json:"category"`
	StartYear  int         `json:"startYear"`
	EndYear    EndYear     `json:"endYear"`
	ColorTheme string      `json:"colorTheme,omitempty"`
}

// Open reports whether the era runs to the present.
func (e Era) Open() bool { return e.EndYear.Present }

// Contains reports whether year falls inside the era, both ends inclusive.
func (e Era) Contains(year int) bool {
	return year >= e.StartYear && (e.EndYear.Present || year <= e.EndYear.Year)
}

// Sentiment is the emotional tag of a memory.
type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentHighStakes Sentiment = "high-stakes"
	SentimentNostalgic  Sentiment = "nostalgic"
)

// ParseSentiment maps unknown input to neutral.
func ParseSentiment(s string) Sentiment {
	switch v := Sentiment(strings.ToLower(strings.TrimSpace(s))); v {
	case SentimentPositive, SentimentNeutral, SentimentHighStakes, SentimentNostalgic:
		return v
	}
	return SentimentNeutral
}

// MemoryKind separates things that happened from things that are.
type MemoryKind string

const (
	MemoryEvent      MemoryKind = "EVENT"
	MemoryIntangible MemoryKind = "INTANGIBLE"
)

// ParseMemoryKind maps unknown input to EVENT.
func ParseMemoryKind(s string) MemoryKind {
	if MemoryKind(strings.ToUpper(strings.TrimSpace(s))) == MemoryIntangible {
		return MemoryIntangible
	}
	return MemoryEvent
}

// AttachmentKind is the media type of an attachment.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentPDF   AttachmentKind = "pdf"
	AttachmentAudio AttachmentKind = "audio"
)

// AttachmentKindFor classifies a mime type the way uploads are classified.
func AttachmentKindFor(mimeType string) AttachmentKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return AttachmentImage
	case strings.Contains(mimeType, "pdf"):
		return AttachmentPDF
	default:
		return AttachmentAudio
	}
}

// Attachment references media stored outside the story.
type Attachment struct {
	Kind     AttachmentKind `json:"type"`
	URL      string         `json:"url"`
	MimeType string         `json:"mimeType,omitempty"`
}

// Source is a grounding citation returned by the extraction collaborator.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Memory is one confirmed narrative fact.
type Memory struct {
	ID                string      `json:"id"`
	UserID            string      `json:"userId"`
	Narrative         string      `json:"narrative"`
	OriginalInput     string      `json:"originalInput"`
	SortDate          string      `json:"sortDate"`
	Location          string      `json:"location,omitempty"`
	Sentiment         Sentiment   `json:"sentiment"`
	Kind              MemoryKind  `json:"type"`
	EntityIDs         []string    `json:"entityIds"`
	EraIDs            []string    `json:"eraIds"`
	Attachment        *Attachment `json:"attachment,omitempty"`
	AIInsight         string      `json:"aiInsight,omitempty"`
	HistoricalContext string      `json:"historicalContext,omitempty"`
	Sources           []Source    `json:"sources,omitempty"`
	ConfidenceScore   float64     `json:"confidenceScore"`
	EventAnchor       string      `json:"eventAnchor,omitempty"`
	Deleted           bool        `json:"deleted,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// DraftMemory is a conversation-derived candidate fragment.
type DraftMemory struct {
	Narrative              string           `json:"narrative"`
	SortDate               string           `json:"sortDate"`
	Location               string           `json:"location,omitempty"`
	Sentiment              Sentiment        `json:"sentiment"`
	Kind                   MemoryKind       `json:"type,omitempty"`
	Reasoning              string           `json:"reasoning,omitempty"`
	HistoricalContext      string           `json:"historicalContext,omitempty"`
	AIInsight              string           `json:"aiInsight,omitempty"`
	SuggestedEraCategories []EraCategory    `json:"suggestedEraCategories,omitempty"`
	SuggestedEventAnchor   string           `json:"suggestedEventAnchor,omitempty"`
	AssociatedEntities     []ProposedEntity `json:"associatedEntities,omitempty"`
}

// PendingArtifact is a media-derived candidate fragment.
type PendingArtifact struct {
	ID                     string        `json:"id"`
	MessageID              string        `json:"messageId,omitempty"`
	Attachment             Attachment    `json:"attachment"`
	SuggestedNarrative     string        `json:"suggestedNarrative,omitempty"`
	SuggestedSortDate      string        `json:"suggestedSortDate,omitempty"`
	SuggestedLocation      string        `json:"suggestedLocation,omitempty"`
	SuggestedEventAnchor   string        `json:"suggestedEventAnchor,omitempty"`
	SuggestedEraCategories []EraCategory `json:"suggestedEraCategories,omitempty"`
	Analysis               string        `json:"analysis,omitempty"`
}

// ProposedEntity is a candidate entity attached to a chat message.
type ProposedEntity struct {
	Name         string         `json:"name"`
	Type         EntityType     `json:"type,omitempty"`
	Relationship string         `json:"relationship,omitempty"`
	Details      string         `json:"details,omitempty"`
	Metadata     EntityMetadata `json:"metadata"`
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser       Role = "user"
	RoleBiographer Role = "biographer"
)

// ChatMessage is one entry of the append-only chat log.
type ChatMessage struct {
	ID               string           `json:"id"`
	Role             Role             `json:"role"`
	Text             string           `json:"text"`
	Timestamp        int64            `json:"timestamp"`
	Attachment       *Attachment      `json:"attachment,omitempty"`
	Proposals        []DraftMemory    `json:"proposals,omitempty"`
	ProposedEntities []ProposedEntity `json:"proposedEntities,omitempty"`
	Sources          []Source         `json:"sources,omitempty"`
	Topic            string           `json:"topic,omitempty"`
}
