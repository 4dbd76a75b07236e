package types

import (
	"encoding/json"
	"fmt"
)

// Message roles accepted on inbound requests.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block discriminators.
const (
	ContentTypeText       = "text"
	ContentTypeImage      = "image"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
	ContentTypeThinking   = "thinking"
)

// MessageRequest is the Anthropic Messages API request body.
type MessageRequest struct {
	Model         string           `json:"model"`
	Messages      []Message        `json:"messages"`
	MaxTokens     int              `json:"max_tokens"`
	System        *SystemPrompt    `json:"system,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	ToolChoice    json.RawMessage  `json:"tool_choice,omitempty"`
	Temperature   *float64         `json:"temperature,omitempty"`
	TopP          *float64         `json:"top_p,omitempty"`
	TopK          *int             `json:"top_k,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
	Thinking      *ThinkingConfig  `json:"thinking,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// Message is a single conversation turn. Content is either a plain string
// or an ordered sequence of typed blocks.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent models the string-or-block-list union of the message
// content field. The zero value is an empty block list.
type MessageContent struct {
	text     string
	Blocks   []ContentBlock
	isString bool
}

// TextContent returns a MessageContent holding a plain string.
func TextContent(s string) MessageContent {
	return MessageContent{text: s, isString: true}
}

// BlockContent returns a MessageContent holding a block sequence.
func BlockContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// IsString reports whether the content was a plain string.
func (c MessageContent) IsString() bool { return c.isString }

// Text returns the plain string form. Only meaningful when IsString is true.
func (c MessageContent) Text() string { return c.text }

// UnmarshalJSON decodes either form of the content union.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = MessageContent{text: s, isString: true}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or a block array: %w", err)
	}
	*c = MessageContent{Blocks: blocks}
	return nil
}

// MarshalJSON re-encodes the union in its original shape.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.isString {
		return json.Marshal(c.text)
	}
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// ContentBlock is one typed region of a message. The Type discriminator
// selects which fields are meaningful; decoding is discriminator-driven
// and encoding emits only the fields belonging to the block's type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source json.RawMessage `json:"source,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// MarshalJSON encodes only the fields that belong to the block type, so
// that empty-but-required fields (an empty text block, an empty tool
// input) survive the round trip.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case ContentTypeText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{b.Type, b.Text})
	case ContentTypeThinking:
		return json.Marshal(struct {
			Type      string `json:"type"`
			Thinking  string `json:"thinking"`
			Signature string `json:"signature,omitempty"`
		}{b.Type, b.Thinking, b.Signature})
	case ContentTypeToolUse:
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		return json.Marshal(struct {
			Type  string         `json:"type"`
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		}{b.Type, b.ID, b.Name, input})
	case ContentTypeToolResult:
		return json.Marshal(struct {
			Type      string          `json:"type"`
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content,omitempty"`
			IsError   bool            `json:"is_error,omitempty"`
		}{b.Type, b.ToolUseID, b.Content, b.IsError})
	case ContentTypeImage:
		return json.Marshal(struct {
			Type   string          `json:"type"`
			Source json.RawMessage `json:"source,omitempty"`
		}{b.Type, b.Source})
	default:
		type alias ContentBlock
		return json.Marshal(alias(b))
	}
}

// SystemPrompt models the string-or-text-block-list union of the system field.
type SystemPrompt struct {
	text     string
	Blocks   []SystemBlock
	isString bool
}

// SystemBlock is one fragment of a list-form system prompt.
type SystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SystemText returns a SystemPrompt holding a plain string.
func SystemText(s string) *SystemPrompt {
	return &SystemPrompt{text: s, isString: true}
}

// SystemBlocks returns a SystemPrompt holding a block sequence.
func SystemBlocks(blocks ...SystemBlock) *SystemPrompt {
	return &SystemPrompt{Blocks: blocks}
}

// IsString reports whether the prompt was a plain string.
func (s SystemPrompt) IsString() bool { return s.isString }

// Text returns the plain string form. Only meaningful when IsString is true.
func (s SystemPrompt) Text() string { return s.text }

// UnmarshalJSON decodes either form of the system union.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SystemPrompt{text: str, isString: true}
		return nil
	}

	var blocks []SystemBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or a text block array: %w", err)
	}
	*s = SystemPrompt{Blocks: blocks}
	return nil
}

// MarshalJSON re-encodes the union in its original shape.
func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.isString {
		return json.Marshal(s.text)
	}
	return json.Marshal(s.Blocks)
}

// ToolDefinition declares one client tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ThinkingConfig models the boolean-or-object union of the thinking field.
type ThinkingConfig struct {
	Type         string `json:"type,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
	enabled      bool
	isBool       bool
}

// Enabled reports whether thinking was requested, across both encodings.
func (t *ThinkingConfig) Enabled() bool {
	if t == nil {
		return false
	}
	if t.isBool {
		return t.enabled
	}
	return t.Type == "enabled"
}

// UnmarshalJSON decodes either the boolean or the object form.
func (t *ThinkingConfig) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*t = ThinkingConfig{enabled: b, isBool: true}
		return nil
	}

	type alias ThinkingConfig
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("thinking must be a boolean or an object: %w", err)
	}
	*t = ThinkingConfig(obj)
	return nil
}
