package ollama

import (
	"fmt"

	"github.com/aschepis/backscratcher/lifebook/llm"
	"github.com/ollama/ollama/api"
)

// ToOllamaMessages converts llm.Messages to Ollama API messages.
func ToOllamaMessages(msgs []llm.Message) ([]api.Message, error) {
	result := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		ollamaMsg, err := ToOllamaMessage(msg)
		if err != nil {
			return nil, err
		}
		result = append(result, ollamaMsg)
	}
	return result, nil
}

// ToOllamaMessage converts a single llm.Message. Text blocks are joined and
// images travel as raw bytes alongside.
func ToOllamaMessage(msg llm.Message) (api.Message, error) {
	var role string
	switch msg.Role {
	case llm.RoleAssistant:
		role = "assistant"
	case llm.RoleSystem:
		role = "system"
	default:
		role = "user"
	}

	out := api.Message{Role: role}
	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += block.Text
		case llm.ContentBlockTypeImage:
			if block.Image == nil {
				return api.Message{}, fmt.Errorf("image block without image data")
			}
			out.Images = append(out.Images, api.ImageData(block.Image.Data))
		}
	}
	return out, nil
}
