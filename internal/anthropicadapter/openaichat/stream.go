package openaichat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/anthrogate/gateway/internal/anthropicadapter/types"
)

// thinkingMode distinguishes the two reasoning encodings an upstream may
// use: an inline <think> span inside the content stream, or the
// dedicated reasoning_content delta field.
type thinkingMode int

const (
	thinkingNone thinkingMode = iota
	thinkingInline
	thinkingReasoning
)

// closingTag is the longest inline-thinking terminator; partial suffixes
// of it are carried across delta boundaries so a split tag is still seen.
const closingTag = "</thinking>"

// tagStripper removes inline thinking tags from a delta before it is
// forwarded as thinking text.
var tagStripper = strings.NewReplacer(
	"<thinking>", "",
	"</thinking>", "",
	"<think>", "",
	"</think>", "",
)

// streamConverter holds the per-stream state machine translating Chat
// Completions deltas into Anthropic stream events. It runs single-tasked
// inside the iterator; no internal synchronization is needed.
type streamConverter struct {
	adapter   *CreateMessageAdapter
	messageID string
	model     string
	requestID string

	started  bool
	finished bool

	contentIndex int
	blockOpen    bool
	textStarted  bool

	thinkingStarted bool
	thinkingClosed  bool
	mode            thinkingMode
	tagCarry        string

	toolCalls  map[int]*toolCallState
	toolBlocks map[int]int

	accumulated strings.Builder
}

// toolCallState tracks one upstream tool call's identity across its
// delta fragments.
type toolCallState struct {
	id        string
	name      string
	synthetic bool
}

// ConvertStream consumes an upstream SSE byte stream and yields Anthropic
// stream events as they are decoded. Events are produced one upstream
// line at a time; nothing is buffered beyond the current frame. The body
// is closed when the iterator returns, including on ctx cancellation.
func (a *CreateMessageAdapter) ConvertStream(
	ctx context.Context,
	body io.ReadCloser,
	model string,
	requestID string,
) iter.Seq2[*types.StreamEvent, error] {
	return func(yield func(*types.StreamEvent, error) bool) {
		defer func() { _ = body.Close() }()

		s := &streamConverter{
			adapter:    a,
			messageID:  fmt.Sprintf("msg_%d", a.now().UnixMilli()),
			model:      model,
			requestID:  requestID,
			toolCalls:  make(map[int]*toolCallState),
			toolBlocks: make(map[int]int),
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

		for scanner.Scan() {
			if s.finished || ctx.Err() != nil {
				return
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				continue
			}

			var chunk Chunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				slog.DebugContext(ctx, "skipping unparseable stream chunk",
					"error", err, "data", truncate(data, 100))
				continue
			}

			for _, event := range s.consume(ctx, &chunk) {
				if !yield(event, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil && !s.finished {
			slog.ErrorContext(ctx, "upstream stream read failed", "error", err)
			yield(types.NewStreamError(err.Error()), nil)
			return
		}

		// Upstream closed without a finish_reason chunk: finalize
		// best-effort with whatever usage is known.
		if s.started && !s.finished {
			for _, event := range s.finish(nil, "") {
				if !yield(event, nil) {
					return
				}
			}
		}
	}
}

// consume translates one upstream chunk into zero or more events.
func (s *streamConverter) consume(ctx context.Context, chunk *Chunk) []*types.StreamEvent {
	if len(chunk.Error) > 0 {
		return []*types.StreamEvent{types.NewStreamError(string(chunk.Error))}
	}

	var events []*types.StreamEvent

	if !s.started {
		s.started = true
		events = append(events, s.messageStart())
	}

	if len(chunk.Choices) == 0 {
		return events
	}
	choice := chunk.Choices[0]

	if delta := choice.Delta; delta != nil {
		wasInline := s.mode == thinkingInline || s.detectsInline(delta)

		events = append(events, s.processThinking(delta)...)
		if !wasInline {
			events = append(events, s.processText(delta)...)
		}
		events = append(events, s.processToolCalls(delta)...)
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		events = append(events, s.finish(chunk, *choice.FinishReason)...)
	}

	return events
}

// detectsInline reports whether this delta would switch the stream into
// inline thinking mode, so the caller can keep its content out of the
// text path.
func (s *streamConverter) detectsInline(d *Delta) bool {
	return s.mode == thinkingNone && !s.thinkingClosed && !s.textStarted &&
		(strings.Contains(d.Content, "<think>") || strings.Contains(d.Content, "<thinking>"))
}

// processThinking handles reasoning detection, thinking deltas and the
// signature-terminated close of the thinking block.
func (s *streamConverter) processThinking(d *Delta) []*types.StreamEvent {
	if s.mode == thinkingNone && !s.thinkingClosed && !s.textStarted {
		switch {
		case strings.Contains(d.Content, "<think>") || strings.Contains(d.Content, "<thinking>"):
			s.mode = thinkingInline
		case d.ReasoningContent != "":
			s.mode = thinkingReasoning
		}
	}

	inPhase := s.mode != thinkingNone
	open := s.thinkingStarted && !s.thinkingClosed
	if !inPhase && !open {
		return nil
	}

	var events []*types.StreamEvent

	if inPhase && !s.thinkingStarted {
		s.thinkingStarted = true
		s.blockOpen = true
		events = append(events,
			s.blockStart(types.ContentBlock{Type: types.ContentTypeThinking, Thinking: ""}),
			ping(),
		)
	}

	switch s.mode {
	case thinkingInline:
		combined := s.tagCarry + d.Content
		s.tagCarry = ""

		closing := strings.Contains(combined, "</think>") || strings.Contains(combined, "</thinking>")
		text := tagStripper.Replace(combined)
		if !closing {
			text, s.tagCarry = holdClosingTagSuffix(text)
		}

		if text != "" {
			s.accumulated.WriteString(text)
			events = append(events, s.blockDelta(types.BlockDelta{
				Type:     types.DeltaTypeThinking,
				Thinking: text,
			}))
		}
		if closing {
			s.mode = thinkingNone
			events = append(events, s.closeThinking()...)
		}

	case thinkingReasoning:
		if d.ReasoningContent != "" {
			s.accumulated.WriteString(d.ReasoningContent)
			events = append(events, s.blockDelta(types.BlockDelta{
				Type:     types.DeltaTypeThinking,
				Thinking: d.ReasoningContent,
			}))
		} else {
			s.mode = thinkingNone
			events = append(events, s.closeThinking()...)
		}

	case thinkingNone:
		// A stray open block after mode already cleared.
		events = append(events, s.closeThinking()...)
	}

	return events
}

// closeThinking terminates the open thinking block: synthetic signature
// delta, block stop, next index.
func (s *streamConverter) closeThinking() []*types.StreamEvent {
	if !s.thinkingStarted || s.thinkingClosed {
		return nil
	}
	s.thinkingClosed = true

	var events []*types.StreamEvent
	if s.tagCarry != "" {
		// A withheld partial tag that never completed is real text.
		s.accumulated.WriteString(s.tagCarry)
		events = append(events, s.blockDelta(types.BlockDelta{
			Type:     types.DeltaTypeThinking,
			Thinking: s.tagCarry,
		}))
		s.tagCarry = ""
	}

	events = append(events,
		s.blockDelta(types.BlockDelta{
			Type:      types.DeltaTypeSignature,
			Signature: s.adapter.signature(),
		}),
		s.blockStop(),
	)
	s.contentIndex++
	s.blockOpen = false
	return events
}

// holdClosingTagSuffix withholds a trailing fragment that could be the
// start of a closing tag split across deltas, returning the emittable
// prefix and the carried remainder.
func holdClosingTagSuffix(text string) (emit, carry string) {
	limit := len(closingTag) - 1
	if len(text) < limit {
		limit = len(text)
	}
	for l := limit; l >= 1; l-- {
		suffix := text[len(text)-l:]
		if strings.HasPrefix(closingTag, suffix) {
			return text[:len(text)-l], suffix
		}
	}
	return text, ""
}

// processText handles ordinary content deltas outside the thinking phase.
func (s *streamConverter) processText(d *Delta) []*types.StreamEvent {
	if s.mode != thinkingNone || d.Content == "" {
		return nil
	}

	var events []*types.StreamEvent

	if !s.textStarted {
		s.textStarted = true
		s.blockOpen = true
		events = append(events,
			s.blockStart(types.ContentBlock{Type: types.ContentTypeText, Text: ""}),
			ping(),
		)
	}

	s.accumulated.WriteString(d.Content)
	events = append(events, s.blockDelta(types.BlockDelta{
		Type: types.DeltaTypeText,
		Text: d.Content,
	}))

	return events
}

// processToolCalls opens tool_use blocks as new upstream tool indices
// appear and forwards argument fragments as input_json_delta events.
func (s *streamConverter) processToolCalls(d *Delta) []*types.StreamEvent {
	if len(d.ToolCalls) == 0 {
		return nil
	}

	var events []*types.StreamEvent
	processed := make(map[int]bool, len(d.ToolCalls))

	for _, call := range d.ToolCalls {
		k := call.Index
		if processed[k] {
			continue
		}
		processed[k] = true

		if _, seen := s.toolBlocks[k]; !seen {
			// An inline thinking phase the upstream never closed must
			// not bleed into the tool block.
			if s.thinkingStarted && !s.thinkingClosed {
				s.mode = thinkingNone
				events = append(events, s.closeThinking()...)
			}

			blockIndex := len(s.toolBlocks)
			if s.textStarted {
				blockIndex++
			}

			if blockIndex != 0 && s.blockOpen {
				events = append(events, s.blockStop())
				s.contentIndex++
			}
			s.toolBlocks[k] = blockIndex

			state := &toolCallState{id: call.ID}
			if call.Function != nil {
				state.name = call.Function.Name
			}
			if state.id == "" || state.name == "" {
				state.synthetic = true
				if state.id == "" {
					state.id = fmt.Sprintf("call_%d_%d", s.adapter.now().UnixMilli(), k)
				}
				if state.name == "" {
					state.name = fmt.Sprintf("tool_%d", k)
				}
			} else {
				s.accumulated.WriteString(state.name)
			}
			s.toolCalls[k] = state

			s.blockOpen = true
			events = append(events,
				s.blockStart(types.ContentBlock{
					Type:  types.ContentTypeToolUse,
					ID:    state.id,
					Name:  state.name,
					Input: map[string]any{},
				}),
				ping(),
			)
		} else if call.ID != "" && call.Function != nil && call.Function.Name != "" {
			// The upstream caught up with the real identifiers after a
			// synthetic start; remember them, no new events.
			if state := s.toolCalls[k]; state != nil && state.synthetic {
				state.id = call.ID
				state.name = call.Function.Name
				state.synthetic = false
			}
		}

		if call.Function == nil || call.Function.Arguments == "" || s.finished {
			continue
		}

		fragment := call.Function.Arguments
		if !utf8.ValidString(fragment) {
			fragment = strings.ToValidUTF8(fragment, "")
			if fragment == "" {
				slog.Warn("dropping unencodable tool argument fragment",
					"tool_index", k)
				continue
			}
		}

		s.accumulated.WriteString(fragment)

		events = append(events, s.blockDelta(types.BlockDelta{
			Type:        types.DeltaTypeInputJSON,
			PartialJSON: fragment,
		}))
	}

	return events
}

// finish closes the current block and emits the terminal message_delta /
// message_stop pair. A nil chunk means the upstream ended without a
// finish_reason and finalization is best-effort.
func (s *streamConverter) finish(chunk *Chunk, finishReason string) []*types.StreamEvent {
	s.finished = true

	var events []*types.StreamEvent

	if s.thinkingStarted && !s.thinkingClosed {
		events = append(events, s.closeThinking()...)
	} else if s.blockOpen {
		events = append(events, s.blockStop())
		s.blockOpen = false
	}

	var usage *Usage
	if chunk != nil {
		if len(chunk.Choices) > 0 && chunk.Choices[0].Usage != nil {
			usage = chunk.Choices[0].Usage
		} else {
			usage = chunk.Usage
		}
	}

	var resolved types.Usage
	if usage != nil {
		resolved.InputTokens = usage.PromptTokens
		resolved.OutputTokens = usage.CompletionTokens
	}
	if resolved.InputTokens == 0 {
		if cached, ok := s.adapter.cache.Get(s.requestID, true); ok {
			resolved.InputTokens = cached
		}
	}
	if resolved.OutputTokens == 0 && s.accumulated.Len() > 0 {
		resolved.OutputTokens = s.adapter.estimator.CountText(s.accumulated.String())
	}

	events = append(events,
		&types.StreamEvent{
			Event: types.EventMessageDelta,
			Data: types.MessageDeltaPayload{
				Type: types.EventMessageDelta,
				Delta: types.MessageDelta{
					StopReason:   mapStreamFinishReason(finishReason),
					StopSequence: nil,
				},
				Usage: resolved,
			},
		},
		&types.StreamEvent{
			Event: types.EventMessageStop,
			Data:  types.MessageStopPayload{Type: types.EventMessageStop},
		},
	)

	return events
}

// mapStreamFinishReason maps streaming finish reasons to stop reasons.
func mapStreamFinishReason(reason string) string {
	switch reason {
	case "length":
		return types.StopReasonMaxTokens
	case "tool_calls":
		return types.StopReasonToolUse
	case "content_filter":
		return types.StopReasonStopSequence
	default:
		return types.StopReasonEndTurn
	}
}

// messageStart builds the stream-opening event. The cached prompt
// estimate is read without consuming it; finalization reads it again and
// removes it.
func (s *streamConverter) messageStart() *types.StreamEvent {
	var input int
	if cached, ok := s.adapter.cache.Get(s.requestID, false); ok {
		input = cached
	}

	return &types.StreamEvent{
		Event: types.EventMessageStart,
		Data: types.MessageStartPayload{
			Type: types.EventMessageStart,
			Message: types.MessageStart{
				ID:      s.messageID,
				Type:    "message",
				Role:    types.RoleAssistant,
				Content: []types.ContentBlock{},
				Model:   s.model,
				Usage:   types.Usage{InputTokens: input},
			},
		},
	}
}

func (s *streamConverter) blockStart(block types.ContentBlock) *types.StreamEvent {
	return &types.StreamEvent{
		Event: types.EventContentBlockStart,
		Data: types.ContentBlockStartPayload{
			Type:         types.EventContentBlockStart,
			Index:        s.contentIndex,
			ContentBlock: block,
		},
	}
}

func (s *streamConverter) blockDelta(delta types.BlockDelta) *types.StreamEvent {
	return &types.StreamEvent{
		Event: types.EventContentBlockDelta,
		Data: types.ContentBlockDeltaPayload{
			Type:  types.EventContentBlockDelta,
			Index: s.contentIndex,
			Delta: delta,
		},
	}
}

func (s *streamConverter) blockStop() *types.StreamEvent {
	return &types.StreamEvent{
		Event: types.EventContentBlockStop,
		Data: types.ContentBlockStopPayload{
			Type:  types.EventContentBlockStop,
			Index: s.contentIndex,
		},
	}
}

func ping() *types.StreamEvent {
	return &types.StreamEvent{
		Event: types.EventPing,
		Data:  types.PingPayload{Type: types.EventPing},
	}
}
