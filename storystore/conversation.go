package storystore

import (
	"context"

	"github.com/aschepis/backscratcher/lifebook/extraction"
	"github.com/aschepis/backscratcher/lifebook/story"
)

// Tell records text as a user message, asks ex for candidate fragments and
// attaches them to that message. The store is not locked while ex runs, so
// other operations may interleave with a slow extraction.
func (s *Store) Tell(ctx context.Context, ex extraction.Extractor, text string, images ...extraction.Image) story.ChatMessage {
	request := s.AppendChatMessage(story.ChatMessage{Role: story.RoleUser, Text: text})

	snap := s.Snapshot()
	req := extraction.Request{
		Input:        text,
		Images:       images,
		FactsContext: extraction.FactsContext(snap),
	}
	if p := snap.Profile; p != nil {
		req.Tone = p.Tone
		req.UserName = p.DisplayName
		req.BirthYear = p.BirthYear
	}

	res, err := ex.Extract(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Extraction failed; keeping input verbatim")
		res = extraction.Fallback(text)
	}
	return s.IngestCandidateFragments(request.ID, res)
}

// Upload records an attached artifact, asks analyzer about it and stores the
// result as a pending artifact.
func (s *Store) Upload(ctx context.Context, analyzer extraction.MediaAnalyzer, name string, data []byte, attachment story.Attachment) story.PendingArtifact {
	if attachment.Kind == "" {
		attachment.Kind = story.AttachmentKindFor(attachment.MimeType)
	}
	a := attachment
	msg := s.AppendChatMessage(story.ChatMessage{
		Role:       story.RoleUser,
		Text:       "Attached artifact: " + name,
		Attachment: &a,
	})

	snap := s.Snapshot()
	req := extraction.MediaRequest{
		Data:         data,
		MimeType:     attachment.MimeType,
		FactsContext: extraction.FactsContext(snap),
	}
	if snap.Profile != nil {
		req.BirthYear = snap.Profile.BirthYear
	}

	res, err := analyzer.AnalyzeMedia(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Media analysis failed; storing artifact without suggestions")
		res = extraction.MediaResult{Degraded: true}
	}
	return s.AddPendingArtifact(msg.ID, attachment, res)
}
