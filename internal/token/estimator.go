// Package token provides prompt/completion token estimation and the
// per-request prompt-token cache used to backfill usage counters the
// upstream omits.
package token

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/anthrogate/gateway/internal/anthropicadapter/types"
)

// Estimator counts tokens of Anthropic-format payloads with a fixed BPE
// vocabulary. Counts are estimates: their only consumers are long-context
// routing and usage backfill, both of which tolerate approximation.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator creates an Estimator backed by the o200k_base encoding.
func NewEstimator() (*Estimator, error) {
	codec, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Estimator{codec: codec}, nil
}

// CountRequest estimates the prompt size of a request. All textual
// surfaces are concatenated in document order into one buffer and encoded
// once.
func (e *Estimator) CountRequest(messages []types.Message, system *types.SystemPrompt, tools []types.ToolDefinition) int {
	var b strings.Builder

	for _, msg := range messages {
		if msg.Content.IsString() {
			b.WriteString(msg.Content.Text())
			continue
		}
		for _, block := range msg.Content.Blocks {
			switch block.Type {
			case types.ContentTypeText:
				b.WriteString(block.Text)
			case types.ContentTypeToolUse:
				if len(block.Input) > 0 {
					b.WriteString(canonicalJSON(block.Input))
				}
			}
		}
	}

	if system != nil {
		if system.IsString() {
			b.WriteString(system.Text())
		} else {
			for _, block := range system.Blocks {
				if block.Type == types.ContentTypeText {
					b.WriteString(block.Text)
				}
			}
		}
	}

	for _, tool := range tools {
		b.WriteString(tool.Name)
		b.WriteString(tool.Description)
		if tool.InputSchema != nil {
			b.WriteString(canonicalJSON(tool.InputSchema))
		}
	}

	return e.CountText(b.String())
}

// CountResponse estimates the size of assembled response content blocks.
func (e *Estimator) CountResponse(blocks []types.ContentBlock) int {
	var b strings.Builder
	for _, block := range blocks {
		if block.Text != "" {
			b.WriteString(block.Text)
		}
		if block.Thinking != "" {
			b.WriteString(block.Thinking)
		}
		if len(block.Input) > 0 {
			b.WriteString(canonicalJSON(block.Input))
		}
		if block.Name != "" {
			b.WriteString(block.Name)
		}
	}
	return e.CountText(b.String())
}

// CountText counts tokens of raw text, falling back to a bytes/4 estimate
// if the encoder rejects the input.
func (e *Estimator) CountText(text string) int {
	if text == "" {
		return 0
	}
	count, err := e.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// canonicalJSON serializes a value as compact UTF-8 JSON with non-ASCII
// preserved literally. Key order follows the encoder; the estimator's
// tolerance absorbs the difference.
func canonicalJSON(v any) string {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
