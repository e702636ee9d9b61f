package openai

import (
	"encoding/base64"
	"fmt"

	"github.com/aschepis/backscratcher/lifebook/llm"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAIMessages converts llm.Messages to OpenAI chat messages.
func ToOpenAIMessages(msgs []llm.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		openaiMsg, err := ToOpenAIMessage(msg)
		if err != nil {
			return nil, err
		}
		result = append(result, openaiMsg)
	}
	return result, nil
}

// ToOpenAIMessage converts a single llm.Message. Messages carrying images use
// multi-part content with inline data URLs; text-only messages use plain content.
func ToOpenAIMessage(msg llm.Message) (openai.ChatCompletionMessage, error) {
	var role string
	switch msg.Role {
	case llm.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	case llm.RoleSystem:
		role = openai.ChatMessageRoleSystem
	default:
		role = openai.ChatMessageRoleUser
	}

	hasImage := false
	for _, block := range msg.Content {
		if block.Type == llm.ContentBlockTypeImage {
			hasImage = true
			break
		}
	}

	openaiMsg := openai.ChatCompletionMessage{Role: role}
	if !hasImage {
		var content string
		for _, block := range msg.Content {
			if block.Type != llm.ContentBlockTypeText {
				continue
			}
			if content != "" {
				content += "\n"
			}
			content += block.Text
		}
		openaiMsg.Content = content
		return openaiMsg, nil
	}

	parts := make([]openai.ChatMessagePart, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: block.Text,
			})
		case llm.ContentBlockTypeImage:
			if block.Image == nil {
				return openai.ChatCompletionMessage{}, fmt.Errorf("image block without image data")
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL(block.Image),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	openaiMsg.MultiContent = parts
	return openaiMsg, nil
}

func dataURL(img *llm.ImageBlock) string {
	return "data:" + img.MimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
