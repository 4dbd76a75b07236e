package types

import (
	"encoding/json"
	"testing"
)

func TestMessageContentUnion(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"plain"}`), &msg); err != nil {
		t.Fatalf("unmarshal string form: %v", err)
	}
	if !msg.Content.IsString() || msg.Content.Text() != "plain" {
		t.Errorf("content = %+v, want string plain", msg.Content)
	}

	if err := json.Unmarshal([]byte(`{"role":"user","content":[{"type":"text","text":"a"},{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}`), &msg); err != nil {
		t.Fatalf("unmarshal block form: %v", err)
	}
	if msg.Content.IsString() || len(msg.Content.Blocks) != 2 {
		t.Fatalf("content = %+v, want 2 blocks", msg.Content)
	}
	if msg.Content.Blocks[1].Type != ContentTypeToolResult || msg.Content.Blocks[1].ToolUseID != "t1" {
		t.Errorf("blocks[1] = %+v", msg.Content.Blocks[1])
	}

	if err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &msg); err == nil {
		t.Error("unmarshal accepted numeric content")
	}
}

func TestContentBlockMarshalKeepsRequiredEmptyFields(t *testing.T) {
	tests := []struct {
		name  string
		block ContentBlock
		want  string
	}{
		{
			name:  "empty text block keeps text field",
			block: ContentBlock{Type: ContentTypeText},
			want:  `{"type":"text","text":""}`,
		},
		{
			name:  "empty thinking block keeps thinking field",
			block: ContentBlock{Type: ContentTypeThinking},
			want:  `{"type":"thinking","thinking":""}`,
		},
		{
			name:  "tool_use without input gets empty object",
			block: ContentBlock{Type: ContentTypeToolUse, ID: "t1", Name: "f"},
			want:  `{"type":"tool_use","id":"t1","name":"f","input":{}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.block)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("marshal = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestThinkingConfigUnion(t *testing.T) {
	var req MessageRequest

	if err := json.Unmarshal([]byte(`{"model":"m","max_tokens":1,"messages":[],"thinking":{"type":"enabled","budget_tokens":1024}}`), &req); err != nil {
		t.Fatalf("unmarshal object form: %v", err)
	}
	if !req.Thinking.Enabled() {
		t.Error("object form not enabled")
	}

	if err := json.Unmarshal([]byte(`{"model":"m","max_tokens":1,"messages":[],"thinking":true}`), &req); err != nil {
		t.Fatalf("unmarshal bool form: %v", err)
	}
	if !req.Thinking.Enabled() {
		t.Error("bool form not enabled")
	}

	if err := json.Unmarshal([]byte(`{"model":"m","max_tokens":1,"messages":[],"thinking":false}`), &req); err != nil {
		t.Fatalf("unmarshal false: %v", err)
	}
	if req.Thinking.Enabled() {
		t.Error("false reported enabled")
	}

	req.Thinking = nil
	if req.Thinking.Enabled() {
		t.Error("nil reported enabled")
	}
}

func TestSystemPromptUnion(t *testing.T) {
	var req MessageRequest

	if err := json.Unmarshal([]byte(`{"model":"m","max_tokens":1,"messages":[],"system":"be brief"}`), &req); err != nil {
		t.Fatalf("unmarshal string system: %v", err)
	}
	if !req.System.IsString() || req.System.Text() != "be brief" {
		t.Errorf("system = %+v", req.System)
	}

	if err := json.Unmarshal([]byte(`{"model":"m","max_tokens":1,"messages":[],"system":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`), &req); err != nil {
		t.Fatalf("unmarshal block system: %v", err)
	}
	if req.System.IsString() || len(req.System.Blocks) != 2 {
		t.Errorf("system = %+v", req.System)
	}
}

func TestErrorResponseEnvelope(t *testing.T) {
	envelope := NewError(ErrorTypeRateLimit, "slow down")

	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}

	if envelope.Detail.Type.HTTPStatus() != 429 {
		t.Errorf("status = %d, want 429", envelope.Detail.Type.HTTPStatus())
	}
}
