// Package extraction adapts the language-model collaborators that turn free
// text and uploaded media into candidate story fragments.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/lifebook/story"
	"github.com/samber/lo"
)

// FallbackResponse is the biographer reply used whenever extraction output
// cannot be used.
const FallbackResponse = "I've saved that fragment. What else from your own journey would you like to capture today?"

// FallbackTopic labels the conversation when no topic was extracted.
const FallbackTopic = "User Journey"

// Image is an inline image sent along with the user's text.
type Image struct {
	MimeType string
	Data     []byte
}

// Request is one extraction call.
type Request struct {
	Input        string
	Images       []Image
	FactsContext string
	Tone         story.Tone
	UserName     string
	BirthYear    int
}

// Result is the candidate output of one extraction call. Degraded is set when
// the result is the verbatim fallback rather than model output.
type Result struct {
	Response string
	Drafts   []story.DraftMemory
	Entities []story.ProposedEntity
	Sources  []story.Source
	Topic    string
	Degraded bool
}

// Extractor produces candidate fragments from user input.
type Extractor interface {
	Extract(ctx context.Context, req Request) (Result, error)
}

// Fallback is the single verbatim fragment used when extraction fails.
func Fallback(input string) Result {
	return Result{
		Response: FallbackResponse,
		Drafts: []story.DraftMemory{{
			Narrative: input,
			SortDate:  story.UndatedSortDate,
			Kind:      story.MemoryEvent,
			Sentiment: story.SentimentNeutral,
			AIInsight: "Saved.",
		}},
		Entities: []story.ProposedEntity{},
		Sources:  []story.Source{},
		Topic:    FallbackTopic,
		Degraded: true,
	}
}

type wireEntity struct {
	Name         string               `json:"name"`
	Type         string               `json:"type"`
	Relationship string               `json:"relationship"`
	Details      string               `json:"details"`
	Metadata     story.EntityMetadata `json:"metadata"`
}

type wireDraft struct {
	Narrative              string       `json:"narrative"`
	SortDate               string       `json:"sortDate"`
	Location               string       `json:"location"`
	Type                   string       `json:"type"`
	Sentiment              string       `json:"sentiment"`
	Reasoning              string       `json:"reasoning"`
	HistoricalContext      string       `json:"historicalContext"`
	AIInsight              string       `json:"aiInsight"`
	SuggestedEraCategories []string     `json:"suggestedEraCategories"`
	SuggestedEventAnchor   string       `json:"suggestedEventAnchor"`
	AssociatedEntities     []wireEntity `json:"associatedEntities"`
}

// wireResult accepts both the current field names and the older
// extractedMemories/extractedEntities shape.
type wireResult struct {
	BiographerResponse string         `json:"biographerResponse"`
	BiographerFeedback string         `json:"biographerFeedback"`
	Memories           []wireDraft    `json:"memories"`
	ExtractedMemories  []wireDraft    `json:"extractedMemories"`
	Entities           []wireEntity   `json:"entities"`
	ExtractedEntities  []wireEntity   `json:"extractedEntities"`
	Sources            []story.Source `json:"sources"`
	Topic              string         `json:"topic"`
}

// Parse converts raw model output into a Result. Fenced code blocks and
// surrounding prose are tolerated; missing lists become empty. Output that is
// not a JSON object, or that carries neither a reply nor any fragment, yields
// Fallback(input).
func Parse(raw, input string) Result {
	body, ok := jsonObject(raw)
	if !ok {
		return Fallback(input)
	}
	var w wireResult
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return Fallback(input)
	}

	drafts := append(w.Memories, w.ExtractedMemories...)
	entities := append(w.Entities, w.ExtractedEntities...)
	response := strings.TrimSpace(w.BiographerResponse)
	if response == "" {
		response = strings.TrimSpace(w.BiographerFeedback)
	}
	if response == "" && len(drafts) == 0 && len(entities) == 0 {
		return Fallback(input)
	}
	if response == "" {
		response = FallbackResponse
	}

	return Result{
		Response: response,
		Drafts: lo.FilterMap(drafts, func(d wireDraft, _ int) (story.DraftMemory, bool) {
			return d.toDraft(), strings.TrimSpace(d.Narrative) != ""
		}),
		Entities: lo.FilterMap(entities, func(e wireEntity, _ int) (story.ProposedEntity, bool) {
			return e.toProposal(), strings.TrimSpace(e.Name) != ""
		}),
		Sources: lo.Filter(orEmpty(w.Sources), func(s story.Source, _ int) bool {
			return s.URI != ""
		}),
		Topic: strings.TrimSpace(w.Topic),
	}
}

func (d wireDraft) toDraft() story.DraftMemory {
	sortDate := strings.TrimSpace(d.SortDate)
	if sortDate == "" {
		sortDate = story.UndatedSortDate
	}
	return story.DraftMemory{
		Narrative:         strings.TrimSpace(d.Narrative),
		SortDate:          sortDate,
		Location:          strings.TrimSpace(d.Location),
		Sentiment:         story.ParseSentiment(d.Sentiment),
		Kind:              story.ParseMemoryKind(d.Type),
		Reasoning:         d.Reasoning,
		HistoricalContext: d.HistoricalContext,
		AIInsight:         d.AIInsight,
		SuggestedEraCategories: lo.FilterMap(d.SuggestedEraCategories, func(s string, _ int) (story.EraCategory, bool) {
			return story.ParseEraCategory(s)
		}),
		SuggestedEventAnchor: d.SuggestedEventAnchor,
		AssociatedEntities: lo.FilterMap(d.AssociatedEntities, func(e wireEntity, _ int) (story.ProposedEntity, bool) {
			return e.toProposal(), strings.TrimSpace(e.Name) != ""
		}),
	}
}

func (e wireEntity) toProposal() story.ProposedEntity {
	p := story.ProposedEntity{
		Name:         strings.TrimSpace(e.Name),
		Relationship: strings.TrimSpace(e.Relationship),
		Details:      strings.TrimSpace(e.Details),
		Metadata:     e.Metadata,
	}
	if e.Type != "" {
		p.Type = story.ParseEntityType(e.Type)
	}
	if p.Details == "" {
		p.Details = strings.TrimSpace(e.Metadata.Notes)
	}
	return p
}

// jsonObject extracts the outermost JSON object from raw, skipping Markdown
// fences and any prose around it.
func jsonObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// FactsContext renders the known entities and memories as the compact fact
// list sent with every extraction request.
func FactsContext(snap story.Snapshot) string {
	lines := make([]string, 0, len(snap.Entities)+len(snap.Memories))
	for _, e := range snap.Entities {
		if e.Retired {
			continue
		}
		lines = append(lines, fmt.Sprintf("[Entity: %s (%s) details: %s]", e.Name, e.Type, strings.Join(e.HistoryTags, ", ")))
	}
	for _, m := range snap.ActiveMemories() {
		lines = append(lines, fmt.Sprintf("[%s: %s]", m.SortDate, m.Narrative))
	}
	return strings.Join(lines, "\n")
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
