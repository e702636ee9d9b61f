package ollama

import (
	"testing"

	"github.com/aschepis/backscratcher/lifebook/llm"
)

func TestToOllamaMessage(t *testing.T) {
	msg := llm.NewImageMessage("What is this?", llm.ImageBlock{MimeType: "image/png", Data: []byte("img")})
	got, err := ToOllamaMessage(msg)
	if err != nil {
		t.Fatalf("ToOllamaMessage: %v", err)
	}
	if got.Role != "user" || got.Content != "What is this?" {
		t.Fatalf("unexpected message %+v", got)
	}
	if len(got.Images) != 1 || string(got.Images[0]) != "img" {
		t.Fatalf("unexpected images %v", got.Images)
	}
}

func TestParseHost(t *testing.T) {
	u, err := parseHost("localhost:11434")
	if err != nil {
		t.Fatalf("parseHost: %v", err)
	}
	if u.String() != "http://localhost:11434" {
		t.Fatalf("parseHost = %s", u)
	}
}
