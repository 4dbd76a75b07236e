package openaichat

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/anthrogate/gateway/internal/anthropicadapter/types"
)

// thinkSpanRe matches inline reasoning spans in upstream content. Both
// tag spellings occur in the wild.
var thinkSpanRe = regexp.MustCompile(`(?s)<think(?:ing)?>(.*?)</think(?:ing)?>`)

// Assemble reconstructs an Anthropic response from a Chat Completion
// object: thinking, text and tool_use blocks in that order, mapped finish
// reason, and usage counters backfilled from the token cache and
// estimator where the upstream left them empty.
func (a *CreateMessageAdapter) Assemble(
	ctx context.Context,
	resp *Response,
	originalModel string,
	requestID string,
) (*types.MessageResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrorTypeAPI, "upstream response has no choices")
	}

	choice := resp.Choices[0]
	blocks := a.extractContentBlocks(ctx, choice.Message)

	model := originalModel
	if model == "" {
		model = resp.Model
	}

	return &types.MessageResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       types.RoleAssistant,
		Content:    blocks,
		Model:      model,
		StopReason: mapFinishReason(choice.FinishReason),
		Usage:      a.resolveUsage(resp.Usage, requestID, blocks),
	}, nil
}

// extractContentBlocks produces the response content in block order:
// a thinking block from reasoning_content or an inline <think> span,
// the remaining text, then one tool_use block per tool call.
func (a *CreateMessageAdapter) extractContentBlocks(ctx context.Context, msg ResponseMessage) []types.ContentBlock {
	var blocks []types.ContentBlock

	if reasoning := strings.TrimSpace(msg.ReasoningContent); reasoning != "" {
		blocks = append(blocks, types.ContentBlock{
			Type:      types.ContentTypeThinking,
			Thinking:  reasoning,
			Signature: a.signature(),
		})
	}

	if content := msg.Content; strings.TrimSpace(content) != "" {
		if spans := thinkSpanRe.FindStringSubmatch(content); spans != nil && len(blocks) == 0 {
			if thinking := strings.TrimSpace(spans[1]); thinking != "" {
				blocks = append(blocks, types.ContentBlock{
					Type:      types.ContentTypeThinking,
					Thinking:  thinking,
					Signature: a.signature(),
				})
			}
		}

		if text := strings.TrimSpace(thinkSpanRe.ReplaceAllString(content, "")); text != "" {
			blocks = append(blocks, types.ContentBlock{
				Type: types.ContentTypeText,
				Text: text,
			})
		}
	}

	for _, call := range msg.ToolCalls {
		blocks = append(blocks, types.ContentBlock{
			Type:  types.ContentTypeToolUse,
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: parseToolArguments(ctx, call.Function.Arguments),
		})
	}

	if len(blocks) == 0 {
		blocks = []types.ContentBlock{{Type: types.ContentTypeText, Text: ""}}
	}

	return blocks
}

// parseToolArguments decodes a tool-call arguments string. A failed parse
// is retried with single quotes replaced by double quotes; a second
// failure falls back to an empty input with a warning.
func parseToolArguments(ctx context.Context, arguments string) map[string]any {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(arguments), &input); err == nil {
		return input
	}

	corrected := strings.ReplaceAll(arguments, "'", `"`)
	if err := json.Unmarshal([]byte(corrected), &input); err == nil {
		return input
	}

	slog.WarnContext(ctx, "unparseable tool call arguments, using empty input",
		"arguments", truncate(arguments, 100))
	return map[string]any{}
}

// mapFinishReason maps non-streaming finish reasons to stop reasons.
func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return types.StopReasonEndTurn
	case "length":
		return types.StopReasonMaxTokens
	case "content_filter":
		return types.StopReasonFilter
	case "tool_calls", "function_call":
		return types.StopReasonToolUse
	default:
		return types.StopReasonEndTurn
	}
}

// resolveUsage fills usage from the upstream, the cached prompt estimate
// (consumed on read), and the estimator over the assembled blocks.
func (a *CreateMessageAdapter) resolveUsage(usage *Usage, requestID string, blocks []types.ContentBlock) types.Usage {
	var resolved types.Usage
	if usage != nil {
		resolved.InputTokens = usage.PromptTokens
		resolved.OutputTokens = usage.CompletionTokens
	}

	if resolved.InputTokens == 0 {
		if cached, ok := a.cache.Get(requestID, true); ok {
			resolved.InputTokens = cached
		}
	}

	if resolved.OutputTokens == 0 && len(blocks) > 0 {
		resolved.OutputTokens = a.estimator.CountResponse(blocks)
	}

	return resolved
}

// signature synthesizes an opaque per-block signature. Clients treat the
// value as opaque; a millisecond timestamp keeps it stable and unique
// enough per block.
func (a *CreateMessageAdapter) signature() string {
	return strconv.FormatInt(a.now().UnixMilli(), 10)
}

// truncate bounds a string for log output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
