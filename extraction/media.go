package extraction

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aschepis/backscratcher/lifebook/story"
)

// UnknownSortDate marks an artifact whose date could not be suggested.
const UnknownSortDate = "Unknown"

// MediaRequest asks for an analysis of one uploaded artifact.
type MediaRequest struct {
	Data         []byte
	MimeType     string
	BirthYear    int
	FactsContext string
}

// MediaResult is what the media collaborator suggests about an artifact.
type MediaResult struct {
	SuggestedYear        string `json:"suggestedYear"`
	SuggestedLocation    string `json:"suggestedLocation"`
	Narrative            string `json:"narrative"`
	Analysis             string `json:"analysis"`
	SuggestedEventAnchor string `json:"suggestedEventAnchor"`
	BiographerCuriosity  string `json:"biographerCuriosity"`
	Degraded             bool   `json:"-"`
}

// MediaAnalyzer produces suggestions for an uploaded artifact.
type MediaAnalyzer interface {
	AnalyzeMedia(ctx context.Context, req MediaRequest) (MediaResult, error)
}

// ParseMedia decodes raw media-analysis output. Unusable output yields a
// degraded, empty result.
func ParseMedia(raw string) MediaResult {
	body, ok := jsonObject(raw)
	if !ok {
		return MediaResult{Degraded: true}
	}
	var r MediaResult
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return MediaResult{Degraded: true}
	}
	r.SuggestedYear = strings.TrimSpace(r.SuggestedYear)
	r.SuggestedLocation = strings.TrimSpace(r.SuggestedLocation)
	r.Narrative = strings.TrimSpace(r.Narrative)
	return r
}

// Pending turns the suggestions into a pending artifact awaiting confirmation.
func (r MediaResult) Pending(id, messageID string, attachment story.Attachment) story.PendingArtifact {
	sortDate := r.SuggestedYear
	if sortDate == "" {
		sortDate = UnknownSortDate
	}
	return story.PendingArtifact{
		ID:                   id,
		MessageID:            messageID,
		Attachment:           attachment,
		SuggestedNarrative:   r.Narrative,
		SuggestedSortDate:    sortDate,
		SuggestedLocation:    r.SuggestedLocation,
		SuggestedEventAnchor: r.SuggestedEventAnchor,
		Analysis:             r.Analysis,
	}
}
