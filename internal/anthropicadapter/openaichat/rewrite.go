package openaichat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/anthrogate/gateway/internal/anthropicadapter"
	"github.com/anthrogate/gateway/internal/anthropicadapter/types"
)

// longContextThreshold routes estimated prompts above this many tokens to
// the long-context model slot.
const longContextThreshold = 100_000

// Rewrite translates an Anthropic request to Chat Completions form:
// upstream model selection, message history conversion (with tool-call
// integrity repair), tool definitions, and operator parameter overrides.
// The prompt token estimate is cached under requestID for usage backfill.
func (a *CreateMessageAdapter) Rewrite(
	ctx context.Context,
	cfg *anthropicadapter.Config,
	req *types.MessageRequest,
	requestID string,
) (*Request, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	estimate := a.estimator.CountRequest(req.Messages, req.System, req.Tools)
	a.cache.Put(requestID, estimate)

	model := selectModel(cfg, req, estimate)

	messages := convertMessages(req)
	messages = repairToolCalls(ctx, messages)

	upstreamReq := &Request{
		Model:      model,
		Messages:   messages,
		MaxTokens:  req.MaxTokens,
		Stream:     req.Stream,
		Stop:       req.StopSequences,
		Tools:      convertTools(req.Tools),
		ToolChoice: convertToolChoice(req.ToolChoice),
	}
	upstreamReq.Temperature = req.Temperature
	upstreamReq.TopP = req.TopP
	upstreamReq.TopK = req.TopK

	applyOverrides(upstreamReq, cfg.Overrides)

	slog.DebugContext(ctx, "rewrote request",
		"source_model", req.Model,
		"target_model", model,
		"message_count", len(messages),
		"estimated_tokens", estimate,
	)

	return upstreamReq, nil
}

// validateRequest enforces required fields and parameter ranges before
// the upstream is contacted.
func validateRequest(req *types.MessageRequest) error {
	if req.Model == "" {
		return types.NewError(types.ErrorTypeInvalidRequest, "model is required")
	}
	if len(req.Messages) == 0 {
		return types.NewError(types.ErrorTypeInvalidRequest, "messages cannot be empty")
	}
	if req.MaxTokens <= 0 {
		return types.NewError(types.ErrorTypeInvalidRequest, "max_tokens must be a positive integer")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 1) {
		return types.NewError(types.ErrorTypeInvalidRequest, "temperature must be between 0 and 1")
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return types.NewError(types.ErrorTypeInvalidRequest, "top_p must be between 0 and 1")
	}
	if req.TopK != nil && *req.TopK < 1 {
		return types.NewError(types.ErrorTypeInvalidRequest, "top_k must be at least 1")
	}
	for _, msg := range req.Messages {
		if msg.Role != types.RoleUser && msg.Role != types.RoleAssistant {
			return types.NewError(types.ErrorTypeInvalidRequest, "message role must be user or assistant, got %q", msg.Role)
		}
	}
	return nil
}

// selectModel picks the upstream model for the request.
//
// A comma in the client model name bypasses routing entirely, for callers
// that address the upstream model literally. Otherwise the haiku/sonnet
// hint picks between the small and default slots, a thinking request
// overrides to the think slot, and an estimate above the long-context
// threshold overrides everything.
func selectModel(cfg *anthropicadapter.Config, req *types.MessageRequest, estimate int) string {
	if strings.Contains(req.Model, ",") {
		return req.Model
	}
	if cfg.Models.Default == "" {
		return req.Model
	}

	model := cfg.Models.Default
	if strings.Contains(req.Model, "haiku") {
		model = cfg.Models.Small
	} else if strings.Contains(req.Model, "sonnet") {
		model = cfg.Models.Default
	}

	if req.Thinking.Enabled() {
		model = cfg.Models.Think
	}

	if estimate > longContextThreshold {
		model = cfg.Models.LongContext
	}

	return model
}

// convertMessages flattens the Anthropic history into the Chat
// Completions message sequence: system fragments first, then each turn,
// with tool_use blocks folded into assistant tool_calls and tool_result
// blocks split off into dedicated tool-role messages.
func convertMessages(req *types.MessageRequest) []Message {
	var messages []Message

	if req.System != nil {
		if req.System.IsString() {
			messages = append(messages, Message{Role: "system", Content: req.System.Text()})
		} else {
			for _, block := range req.System.Blocks {
				messages = append(messages, Message{Role: "system", Content: block.Text})
			}
		}
	}

	for _, msg := range req.Messages {
		messages = append(messages, convertSingleMessage(msg)...)
	}

	return messages
}

// convertSingleMessage converts one Anthropic turn. List content is
// partitioned into content parts, tool calls and trailing tool messages.
func convertSingleMessage(msg types.Message) []Message {
	if msg.Content.IsString() {
		return []Message{{Role: msg.Role, Content: msg.Content.Text()}}
	}

	var (
		parts       []any
		toolCalls   []ToolCall
		toolResults []Message
	)

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case types.ContentTypeText:
			parts = append(parts, map[string]any{"type": "text", "text": block.Text})
		case types.ContentTypeImage:
			parts = append(parts, convertImageBlock(block))
		case types.ContentTypeToolUse:
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      block.Name,
					Arguments: marshalToolInput(block.Input),
				},
			})
		case types.ContentTypeToolResult:
			toolResults = append(toolResults, Message{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    toolResultContent(block.Content),
			})
		}
		// thinking blocks in history are dropped: Chat Completions has no
		// place for replayed reasoning.
	}

	var messages []Message

	if len(parts) > 0 || len(toolCalls) > 0 || len(toolResults) == 0 {
		main := Message{Role: msg.Role, ToolCalls: toolCalls}
		switch {
		case len(parts) == 1:
			if text, ok := singleTextPart(parts[0]); ok {
				main.Content = text
			} else {
				main.Content = parts
			}
		case len(parts) > 1:
			main.Content = parts
		default:
			main.Content = nil
		}
		messages = append(messages, main)
	}

	return append(messages, toolResults...)
}

// singleTextPart unwraps a lone text part back to a plain string.
func singleTextPart(part any) (string, bool) {
	m, ok := part.(map[string]any)
	if !ok || m["type"] != "text" {
		return "", false
	}
	text, ok := m["text"].(string)
	return text, ok
}

// convertImageBlock maps an Anthropic image source to an image_url part.
// Base64 sources become data URLs; URL sources pass through.
func convertImageBlock(block types.ContentBlock) map[string]any {
	var source struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
		URL       string `json:"url"`
	}
	_ = json.Unmarshal(block.Source, &source)

	url := source.URL
	if source.Type == "base64" {
		url = "data:" + source.MediaType + ";base64," + source.Data
	}

	return map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": url},
	}
}

// marshalToolInput serializes a tool_use input for the arguments string.
func marshalToolInput(input map[string]any) string {
	if input == nil {
		input = map[string]any{}
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// toolResultContent flattens a tool_result payload to a string: string
// payloads pass through, anything else is re-serialized.
func toolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// repairToolCalls removes incomplete tool-call sequences in one
// left-to-right pass. An assistant message with tool_calls is kept only
// when the immediately following tool messages cover exactly its call
// ids; a bare tool message is kept only when a preceding assistant
// declared its id. Drops are logged, never errored: clients replay
// partial histories routinely and the upstream would reject the whole
// request otherwise.
func repairToolCalls(ctx context.Context, messages []Message) []Message {
	if len(messages) == 0 {
		return messages
	}

	var kept []Message
	i := 0

	for i < len(messages) {
		current := messages[i]

		if current.Role == "assistant" && len(current.ToolCalls) > 0 {
			declared := make(map[string]bool, len(current.ToolCalls))
			for _, call := range current.ToolCalls {
				if call.ID != "" {
					declared[call.ID] = true
				}
			}

			found := make(map[string]bool)
			extra := false
			j := i + 1
			for j < len(messages) && messages[j].Role == "tool" {
				if id := messages[j].ToolCallID; declared[id] {
					found[id] = true
				} else {
					extra = true
				}
				j++
			}

			if len(found) == len(declared) && !extra {
				kept = append(kept, current)
				for k := i + 1; k < j; k++ {
					if messages[k].Role == "tool" {
						kept = append(kept, messages[k])
					}
				}
			} else {
				slog.DebugContext(ctx, "dropping incomplete tool_calls sequence",
					"expected", len(declared), "found", len(found))
			}
			i = j
			continue
		}

		if current.Role == "tool" {
			if hasDeclaringAssistant(messages, i, current.ToolCallID) {
				kept = append(kept, current)
			} else {
				slog.DebugContext(ctx, "dropping orphaned tool message",
					"tool_call_id", current.ToolCallID)
			}
			i++
			continue
		}

		kept = append(kept, current)
		i++
	}

	return kept
}

// hasDeclaringAssistant scans backwards from position i for an assistant
// message declaring toolCallID, stopping at the first message that is
// neither a tool message nor such an assistant.
func hasDeclaringAssistant(messages []Message, i int, toolCallID string) bool {
	for k := i - 1; k >= 0; k-- {
		prev := messages[k]
		if prev.Role == "assistant" && len(prev.ToolCalls) > 0 {
			for _, call := range prev.ToolCalls {
				if call.ID == toolCallID {
					return true
				}
			}
			return false
		}
		if prev.Role != "tool" {
			return false
		}
	}
	return false
}

// convertTools maps Anthropic tool definitions to function-form tools.
func convertTools(tools []types.ToolDefinition) []Tool {
	if len(tools) == 0 {
		return nil
	}

	converted := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		converted = append(converted, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return converted
}

// convertToolChoice maps the Anthropic tool_choice union: "any" becomes
// "required", "auto" passes through, {type:"tool",name} becomes the
// function selector, anything else passes through verbatim.
func convertToolChoice(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "any" {
			return json.RawMessage(`"required"`)
		}
		return raw
	}

	var obj struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Type == "tool" && obj.Name != "" {
		selector, err := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]any{"name": obj.Name},
		})
		if err == nil {
			return selector
		}
	}

	return raw
}

// applyOverrides replaces sampling parameters per-field from operator
// configuration. Unset overrides leave the client value untouched.
func applyOverrides(req *Request, overrides anthropicadapter.ParameterOverrides) {
	if overrides.MaxTokens != nil {
		req.MaxTokens = *overrides.MaxTokens
	}
	if overrides.Temperature != nil {
		req.Temperature = overrides.Temperature
	}
	if overrides.TopP != nil {
		req.TopP = overrides.TopP
	}
	if overrides.TopK != nil {
		req.TopK = overrides.TopK
	}
}
