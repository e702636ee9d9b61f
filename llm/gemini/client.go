// Package gemini implements llm.Client on the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/aschepis/backscratcher/lifebook/llm"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// GeminiClient implements the llm.Client interface for the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

// NewGeminiClient creates a client for the Gemini developer API.
func NewGeminiClient(ctx context.Context, apiKey, model string, logger zerolog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "geminiClient").Logger(),
	}, nil
}

// Synchronous implements llm.Client.Synchronous.
func (c *GeminiClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	contents, err := ToContents(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSONOutput {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, convertGeminiError(err)
	}

	out := &llm.Response{StopReason: "stop"}
	if text := resp.Text(); text != "" {
		out.Content = []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: text}}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
		out.StopReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.Usage = &llm.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
		c.logger.Debug().
			Str("model", model).
			Int64("input_tokens", out.Usage.InputTokens).
			Int64("output_tokens", out.Usage.OutputTokens).
			Msg("Completion finished")
	}
	return out, nil
}

// ToContents converts llm.Messages to GenAI contents. System messages are
// folded into user turns; callers should prefer Request.System.
func ToContents(msgs []llm.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		parts := make([]*genai.Part, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch block.Type {
			case llm.ContentBlockTypeText:
				parts = append(parts, genai.NewPartFromText(block.Text))
			case llm.ContentBlockTypeImage:
				if block.Image == nil {
					return nil, fmt.Errorf("image block without image data")
				}
				parts = append(parts, genai.NewPartFromBytes(block.Image.Data, block.Image.MimeType))
			}
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}

func convertGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.FromStatus(apiErr.Code, fmt.Sprintf("gemini API error: %s", apiErr.Message), nil, err)
	}
	return llm.FromStatus(0, "gemini request failed", nil, err)
}

var _ llm.Client = (*GeminiClient)(nil)
