package token

import (
	"strings"
	"testing"

	"github.com/anthrogate/gateway/internal/anthropicadapter/types"
)

func newTestEstimator(t *testing.T) *Estimator {
	t.Helper()
	est, err := NewEstimator()
	if err != nil {
		t.Fatalf("NewEstimator: %v", err)
	}
	return est
}

func TestCountRequestDeterministic(t *testing.T) {
	est := newTestEstimator(t)

	messages := []types.Message{
		{Role: types.RoleUser, Content: types.TextContent("What is the weather in Berlin?")},
		{Role: types.RoleAssistant, Content: types.BlockContent(
			types.ContentBlock{Type: types.ContentTypeText, Text: "Let me check."},
			types.ContentBlock{Type: types.ContentTypeToolUse, ID: "t1", Name: "get_weather", Input: map[string]any{"city": "Berlin"}},
		)},
	}
	system := types.SystemText("You are a helpful assistant.")
	tools := []types.ToolDefinition{{
		Name:        "get_weather",
		Description: "Look up current weather",
		InputSchema: map[string]any{"type": "object"},
	}}

	first := est.CountRequest(messages, system, tools)
	if first <= 0 {
		t.Fatalf("CountRequest = %d, want > 0", first)
	}

	for range 3 {
		if got := est.CountRequest(messages, system, tools); got != first {
			t.Errorf("CountRequest not deterministic: %d != %d", got, first)
		}
	}
}

func TestCountRequestSurfaces(t *testing.T) {
	est := newTestEstimator(t)

	base := est.CountRequest([]types.Message{
		{Role: types.RoleUser, Content: types.TextContent("hello")},
	}, nil, nil)

	withSystem := est.CountRequest([]types.Message{
		{Role: types.RoleUser, Content: types.TextContent("hello")},
	}, types.SystemBlocks(types.SystemBlock{Type: "text", Text: "Respond in formal English at all times."}), nil)

	if withSystem <= base {
		t.Errorf("system prompt did not increase the count: %d <= %d", withSystem, base)
	}
}

func TestCountTextApproximatesWordCount(t *testing.T) {
	est := newTestEstimator(t)

	// ASCII prose lands near one token per word with o200k_base; a wide
	// band is enough to catch a broken encoder wiring.
	words := 200
	text := strings.Repeat("hello world this is a test sentence ", words/7)
	count := est.CountText(text)

	if count < words/3 || count > words*3 {
		t.Errorf("CountText = %d, outside plausible band for ~%d words", count, words)
	}
}

func TestCountTextEmpty(t *testing.T) {
	est := newTestEstimator(t)
	if got := est.CountText(""); got != 0 {
		t.Errorf("CountText(\"\") = %d, want 0", got)
	}
}

func TestCountResponseBlocks(t *testing.T) {
	est := newTestEstimator(t)

	blocks := []types.ContentBlock{
		{Type: types.ContentTypeThinking, Thinking: "reasoning about the request"},
		{Type: types.ContentTypeText, Text: "Here is the answer."},
		{Type: types.ContentTypeToolUse, Name: "search", Input: map[string]any{"query": "golang iterators"}},
	}

	count := est.CountResponse(blocks)
	if count <= 0 {
		t.Fatalf("CountResponse = %d, want > 0", count)
	}

	// Every block surface must contribute
	textOnly := est.CountResponse(blocks[1:2])
	if count <= textOnly {
		t.Errorf("thinking and tool blocks did not contribute: %d <= %d", count, textOnly)
	}
}
