package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/courier/internal/tools"
	"github.com/linnemanlabs/courier/internal/triage"
)

func TestToSDKMessages_TextBlock(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role:    "user",
		Content: []triage.ContentBlock{{Type: "text", Text: "hello"}},
	}}

	result := toSDKMessages(msgs)

	if len(result) != 1 {
		t.Fatalf("len = %d, want 1", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("role = %q, want %q", result[0].Role, "user")
	}
	if len(result[0].Content) != 1 {
		t.Fatalf("content len = %d, want 1", len(result[0].Content))
	}
	if result[0].Content[0].OfText == nil {
		t.Fatal("expected OfText to be set")
	}
	if result[0].Content[0].OfText.Text != "hello" {
		t.Errorf("text = %q, want %q", result[0].Content[0].OfText.Text, "hello")
	}
}

func TestToSDKMessages_ToolUseBlock(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role: "assistant",
		Content: []triage.ContentBlock{{
			Type:  "tool_use",
			ID:    "tu-1",
			Name:  "assign-to-automation",
			Input: json.RawMessage(`{"email_ids":["1"]}`),
		}},
	}}

	result := toSDKMessages(msgs)

	block := result[0].Content[0]
	if block.OfToolUse == nil {
		t.Fatal("expected OfToolUse to be set")
	}
	if block.OfToolUse.ID != "tu-1" {
		t.Errorf("ID = %q, want %q", block.OfToolUse.ID, "tu-1")
	}
	if block.OfToolUse.Name != "assign-to-automation" {
		t.Errorf("Name = %q, want %q", block.OfToolUse.Name, "assign-to-automation")
	}
}

func TestToSDKMessages_ToolResultBlock(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role: "user",
		Content: []triage.ContentBlock{{
			Type:      "tool_result",
			ToolUseID: "tu-1",
			Content:   "Error: unknown email id \"9\"",
			IsError:   true,
		}},
	}}

	result := toSDKMessages(msgs)

	block := result[0].Content[0]
	if block.OfToolResult == nil {
		t.Fatal("expected OfToolResult to be set")
	}
	if block.OfToolResult.ToolUseID != "tu-1" {
		t.Errorf("ToolUseID = %q, want %q", block.OfToolResult.ToolUseID, "tu-1")
	}
	if !block.OfToolResult.IsError.Valid() || !block.OfToolResult.IsError.Value {
		t.Error("expected IsError to be true")
	}
}

func TestToSDKMessages_MixedBlocks(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role: "assistant",
		Content: []triage.ContentBlock{
			{Type: "text", Text: "assigning the newsletter"},
			{Type: "tool_use", ID: "tu-2", Name: "assign-to-automation", Input: json.RawMessage(`{}`)},
		},
	}}

	result := toSDKMessages(msgs)

	if len(result[0].Content) != 2 {
		t.Fatalf("content len = %d, want 2", len(result[0].Content))
	}
	if result[0].Content[0].OfText == nil {
		t.Error("first block should be text")
	}
	if result[0].Content[1].OfToolUse == nil {
		t.Error("second block should be tool_use")
	}
}

func TestToSDKTools(t *testing.T) {
	t.Parallel()

	defs := []tools.ToolDef{{
		Name:        "get-statistics",
		Description: "a test tool",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"email_id":{"type":"string"}},"required":["email_id"]}`),
	}}

	result := toSDKTools(defs)

	if len(result) != 1 {
		t.Fatalf("len = %d, want 1", len(result))
	}
	if result[0].OfTool == nil {
		t.Fatal("expected OfTool to be set")
	}
	if result[0].OfTool.Name != "get-statistics" {
		t.Errorf("name = %q, want %q", result[0].OfTool.Name, "get-statistics")
	}
	if !result[0].OfTool.Description.Valid() || result[0].OfTool.Description.Value != "a test tool" {
		t.Errorf("description = %v, want %q", result[0].OfTool.Description, "a test tool")
	}
}

func TestFromSDKResponse_TextContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "classification done"},
		},
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 100, OutputTokens: 50},
	}

	result := fromSDKResponse(msg)

	if len(result.Content) != 1 {
		t.Fatalf("content len = %d, want 1", len(result.Content))
	}
	if result.Content[0].Type != "text" {
		t.Errorf("type = %q, want %q", result.Content[0].Type, "text")
	}
	if result.Content[0].Text != "classification done" {
		t.Errorf("text = %q, want %q", result.Content[0].Text, "classification done")
	}
}

func TestFromSDKResponse_ToolUseContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{
				Type:  "tool_use",
				ID:    "tu-99",
				Name:  "assign-to-automation",
				Input: json.RawMessage(`{"email_ids":["1"]}`),
			},
		},
		StopReason: anthropic.StopReasonToolUse,
		Usage:      anthropic.Usage{InputTokens: 200, OutputTokens: 100},
	}

	result := fromSDKResponse(msg)

	if len(result.Content) != 1 {
		t.Fatalf("content len = %d, want 1", len(result.Content))
	}
	if result.Content[0].Type != "tool_use" {
		t.Errorf("type = %q, want %q", result.Content[0].Type, "tool_use")
	}
	if result.Content[0].ID != "tu-99" {
		t.Errorf("id = %q, want %q", result.Content[0].ID, "tu-99")
	}
	if result.Content[0].Name != "assign-to-automation" {
		t.Errorf("name = %q, want %q", result.Content[0].Name, "assign-to-automation")
	}
}

func TestFromSDKResponse_StopReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sdk      anthropic.StopReason
		expected triage.StopReason
	}{
		{"end_turn", anthropic.StopReasonEndTurn, triage.StopEnd},
		{"tool_use", anthropic.StopReasonToolUse, triage.StopToolUse},
		{"unknown", anthropic.StopReason("max_tokens"), triage.StopReason("max_tokens")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := &anthropic.Message{
				StopReason: tt.sdk,
				Usage:      anthropic.Usage{},
			}
			result := fromSDKResponse(msg)
			if result.StopReason != tt.expected {
				t.Errorf("stop reason = %q, want %q", result.StopReason, tt.expected)
			}
		})
	}
}

func TestFromSDKResponse_Usage(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 1234, OutputTokens: 567},
	}

	result := fromSDKResponse(msg)

	if result.Usage.InputTokens != 1234 {
		t.Errorf("input tokens = %d, want 1234", result.Usage.InputTokens)
	}
	if result.Usage.OutputTokens != 567 {
		t.Errorf("output tokens = %d, want 567", result.Usage.OutputTokens)
	}
}

func TestToSDKTools_Schema(t *testing.T) {
	t.Parallel()

	defs := []tools.ToolDef{
		{Name: "reply", InputSchema: json.RawMessage(`{"type":"object","properties":{"email_id":{"type":"string"}},"required":["email_id","text"]}`)},
		{Name: "broken", InputSchema: json.RawMessage(`not json`)},
	}
	result := toSDKTools(defs)

	if got := result[0].OfTool.InputSchema.Required; len(got) != 2 || got[1] != "text" {
		t.Errorf("required = %v", got)
	}
	if result[0].OfTool.InputSchema.Properties == nil {
		t.Error("expected properties to be carried over")
	}
	if result[1].OfTool.InputSchema.Properties != nil {
		t.Errorf("malformed schema properties = %v, want nil", result[1].OfTool.InputSchema.Properties)
	}
}

func TestToSDKMessages_EmptyToolInput(t *testing.T) {
	t.Parallel()

	result := toSDKMessages([]triage.Message{{
		Role:    "assistant",
		Content: []triage.ContentBlock{{Type: "tool_use", ID: "tu-3", Name: "get-statistics"}},
	}})

	raw, err := json.Marshal(result[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"input":{}`) {
		t.Errorf("tool_use without input should send an empty object, got %s", raw)
	}
}

func TestSend_RoundTrip(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [
				{"type": "text", "text": "assigning"},
				{"type": "tool_use", "id": "tu-1", "name": "assign-to-automation", "input": {"email_ids": ["2"]}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 321, "output_tokens": 45}
		}`)
	}))
	defer srv.Close()

	c := New("test-key", "claude-test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	resp, err := c.Send(context.Background(), &triage.LLMRequest{
		MaxTokens: 1024,
		System:    "triage the inbox",
		Messages: []triage.Message{{
			Role:    "user",
			Content: []triage.ContentBlock{{Type: "text", Text: "emails: []"}},
		}},
		Tools: []tools.ToolDef{{Name: "assign-to-automation", Description: "assign", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotBody["model"] != "claude-test" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["max_tokens"] != float64(1024) {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
	if _, ok := gotBody["system"]; !ok {
		t.Error("system prompt not sent")
	}

	if resp.StopReason != triage.StopToolUse {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if resp.Model != "claude-test" {
		t.Errorf("model = %q", resp.Model)
	}
	if resp.Usage.InputTokens != 321 || resp.Usage.OutputTokens != 45 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if len(resp.Content) != 2 || resp.Content[1].Name != "assign-to-automation" {
		t.Fatalf("content = %+v", resp.Content)
	}
	var input struct {
		EmailIDs []string `json:"email_ids"`
	}
	if err := json.Unmarshal(resp.Content[1].Input, &input); err != nil || len(input.EmailIDs) != 1 {
		t.Errorf("tool input = %s (%v)", resp.Content[1].Input, err)
	}
}

func TestSend_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad tools"}}`)
	}))
	defer srv.Close()

	c := New("k", "claude-test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := c.Send(context.Background(), &triage.LLMRequest{
		MaxTokens: 10,
		Messages:  []triage.Message{{Role: "user", Content: []triage.ContentBlock{{Type: "text", Text: "hi"}}}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "claude messages") {
		t.Errorf("err = %v", err)
	}
}
