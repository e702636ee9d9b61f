package anthropic

import (
	"testing"

	"github.com/aschepis/backscratcher/lifebook/llm"
)

func TestToMessageParamWithImage(t *testing.T) {
	msg := llm.NewImageMessage("When was this taken?", llm.ImageBlock{MimeType: "image/png", Data: []byte("png")})
	param, err := ToMessageParam(msg)
	if err != nil {
		t.Fatalf("ToMessageParam: %v", err)
	}
	if string(param.Role) != "user" || len(param.Content) != 2 {
		t.Fatalf("unexpected param %+v", param)
	}
	if param.Content[0].OfImage == nil {
		t.Fatal("expected an image block first")
	}
	if param.Content[1].OfText == nil || param.Content[1].OfText.Text != "When was this taken?" {
		t.Fatalf("unexpected text block %+v", param.Content[1])
	}
}

func TestToMessageParamRejectsEmptyImage(t *testing.T) {
	msg := llm.Message{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: llm.ContentBlockTypeImage}}}
	if _, err := ToMessageParam(msg); err == nil {
		t.Fatal("expected error for image block without data")
	}
}
