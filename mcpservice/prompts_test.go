package mcpservice

import (
	"context"
	"errors"
	"testing"

	"github.com/mcpdemo/server-go/mcp"
)

func summarizePrompt() StaticPrompt {
	return StaticPrompt{
		Descriptor: mcp.Prompt{
			Name:        "summarize",
			Description: "Summarize text.",
			Arguments: []mcp.PromptArgument{
				{Name: "text", Required: true},
				{Name: "tone", Required: false},
			},
		},
		Handler: func(ctx context.Context, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Messages: []mcp.PromptMessage{{
					Role:    mcp.RoleUser,
					Content: mcp.ContentBlock{Type: "text", Text: "Summarize: " + req.Arguments["text"]},
				}},
			}, nil
		},
	}
}

func TestPromptsContainer_GetPrompt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pc := NewPromptsContainer(summarizePrompt())

	t.Run("ok", func(t *testing.T) {
		res, err := pc.GetPrompt(ctx, &mcp.GetPromptRequestReceived{
			Name:      "summarize",
			Arguments: map[string]string{"text": "hello"},
		})
		if err != nil {
			t.Fatalf("GetPrompt: %v", err)
		}
		if len(res.Messages) != 1 || res.Messages[0].Content.Text != "Summarize: hello" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("missing required argument", func(t *testing.T) {
		_, err := pc.GetPrompt(ctx, &mcp.GetPromptRequestReceived{Name: "summarize"})
		var invalid *InvalidArgumentsError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidArgumentsError, got %v", err)
		}
	})

	t.Run("unknown prompt", func(t *testing.T) {
		_, err := pc.GetPrompt(ctx, &mcp.GetPromptRequestReceived{Name: "nope"})
		var unknown *UnknownCapabilityError
		if !errors.As(err, &unknown) {
			t.Fatalf("expected UnknownCapabilityError, got %v", err)
		}
	})
}

func TestPromptsContainer_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pc := NewPromptsContainer(summarizePrompt())

	page, err := pc.ListPrompts(ctx, nil)
	if err != nil {
		t.Fatalf("ListPrompts: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "summarize" {
		t.Fatalf("unexpected listing: %+v", page.Items)
	}
	if page.NextCursor != nil {
		t.Fatal("single page should have nil next cursor")
	}
}

func TestPromptsContainer_AddRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pc := NewPromptsContainer()

	if pc.Add(ctx, StaticPrompt{}) {
		t.Fatal("empty name should be rejected")
	}
	if !pc.Add(ctx, summarizePrompt()) {
		t.Fatal("Add returned false")
	}
	if pc.Add(ctx, summarizePrompt()) {
		t.Fatal("duplicate Add should return false")
	}
	if !pc.Remove(ctx, "summarize") {
		t.Fatal("Remove returned false")
	}
	if len(pc.Snapshot()) != 0 {
		t.Fatalf("snapshot length = %d, want 0", len(pc.Snapshot()))
	}
}
