package extraction

import (
	"context"

	"github.com/aschepis/backscratcher/lifebook/llm"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// LLMExtractor implements Extractor and MediaAnalyzer on an llm.Client.
// Collaborator failures never reach the caller: they degrade to the fallback
// result and are logged.
type LLMExtractor struct {
	client    llm.Client
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

// NewLLMExtractor creates an extractor that sends requests for model.
func NewLLMExtractor(client llm.Client, model string, maxTokens int64, logger zerolog.Logger) *LLMExtractor {
	return &LLMExtractor{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With().Str("component", "extractor").Logger(),
	}
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, req Request) (Result, error) {
	e.logger.Debug().Str("method", "Extract").Int("images", len(req.Images)).Msg("called")

	images := lo.Map(req.Images, func(img Image, _ int) llm.ImageBlock {
		return llm.ImageBlock{MimeType: img.MimeType, Data: img.Data}
	})
	resp, err := e.client.Synchronous(ctx, &llm.Request{
		Model:      e.model,
		System:     ingestSystemPrompt(req),
		Messages:   []llm.Message{llm.NewImageMessage(ingestUserPrompt(req), images...)},
		MaxTokens:  e.maxTokens,
		JSONOutput: true,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Extraction failed, keeping input verbatim")
		return Fallback(req.Input), nil
	}

	result := Parse(resp.Text(), req.Input)
	if result.Degraded {
		e.logger.Warn().Msg("Extraction output unusable, keeping input verbatim")
	}
	return result, nil
}

// AnalyzeMedia implements MediaAnalyzer.
func (e *LLMExtractor) AnalyzeMedia(ctx context.Context, req MediaRequest) (MediaResult, error) {
	e.logger.Debug().Str("method", "AnalyzeMedia").Str("mime_type", req.MimeType).Msg("called")

	resp, err := e.client.Synchronous(ctx, &llm.Request{
		Model:  e.model,
		System: mediaSystemPrompt(req),
		Messages: []llm.Message{llm.NewImageMessage(mediaUserPrompt(req), llm.ImageBlock{
			MimeType: req.MimeType,
			Data:     req.Data,
		})},
		MaxTokens:  e.maxTokens,
		JSONOutput: true,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Media analysis failed")
		return MediaResult{Degraded: true}, nil
	}
	return ParseMedia(resp.Text()), nil
}

var (
	_ Extractor     = (*LLMExtractor)(nil)
	_ MediaAnalyzer = (*LLMExtractor)(nil)
)
