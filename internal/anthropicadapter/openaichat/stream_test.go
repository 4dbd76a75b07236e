package openaichat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/anthrogate/gateway/internal/anthropicadapter/types"
)

// sseStream frames chunk payloads as an upstream SSE body.
func sseStream(payloads ...string) io.ReadCloser {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: ")
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(b.String()))
}

// contentChunk builds a chunk with a plain content delta.
func contentChunk(content string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, content)
}

// finishChunk builds a terminal chunk with the given finish reason.
func finishChunk(reason string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{},"finish_reason":%q}]}`, reason)
}

// collectEvents drains the converter over the given payloads.
func collectEvents(t *testing.T, adapter *CreateMessageAdapter, requestID string, payloads ...string) []*types.StreamEvent {
	t.Helper()

	var events []*types.StreamEvent
	for event, err := range adapter.ConvertStream(context.Background(), sseStream(payloads...), "claude-3-5-sonnet-20241022", requestID) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		events = append(events, event)
	}
	return events
}

// eventNames extracts the SSE event name sequence.
func eventNames(events []*types.StreamEvent) []string {
	names := make([]string, len(events))
	for i, event := range events {
		names[i] = event.Event
	}
	return names
}

func assertEventSequence(t *testing.T, events []*types.StreamEvent, want []string) {
	t.Helper()
	got := eventNames(events)
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("event sequence = %v, want %v", got, want)
		}
	}
}

// checkStreamInvariants asserts the structural laws every successful
// stream must satisfy: paired dense block indices, single start/delta/
// stop, and signature-terminated thinking blocks.
func checkStreamInvariants(t *testing.T, events []*types.StreamEvent) {
	t.Helper()

	var starts, stops []int
	var messageStarts, messageDeltas, messageStops int
	thinkingOpen := map[int]bool{}
	signatureSeen := map[int]bool{}

	for _, event := range events {
		switch data := event.Data.(type) {
		case types.MessageStartPayload:
			messageStarts++
			if messageDeltas > 0 || len(starts) > 0 {
				t.Error("message_start is not the first event")
			}
		case types.ContentBlockStartPayload:
			starts = append(starts, data.Index)
			if data.ContentBlock.Type == types.ContentTypeThinking {
				thinkingOpen[data.Index] = true
			}
		case types.ContentBlockDeltaPayload:
			if data.Delta.Type == types.DeltaTypeSignature {
				signatureSeen[data.Index] = true
			}
		case types.ContentBlockStopPayload:
			stops = append(stops, data.Index)
			if thinkingOpen[data.Index] && !signatureSeen[data.Index] {
				t.Errorf("thinking block %d closed without signature_delta", data.Index)
			}
		case types.MessageDeltaPayload:
			messageDeltas++
		case types.MessageStopPayload:
			messageStops++
		}
	}

	if messageStarts != 1 || messageDeltas != 1 || messageStops != 1 {
		t.Errorf("message_start/message_delta/message_stop = %d/%d/%d, want 1/1/1",
			messageStarts, messageDeltas, messageStops)
	}
	if len(starts) != len(stops) {
		t.Errorf("content_block_start/stop counts differ: %v vs %v", starts, stops)
	}
	for i, index := range starts {
		if index != i {
			t.Errorf("block indices not dense: %v", starts)
			break
		}
	}
}

func TestConvertStreamInlineThinking(t *testing.T) {
	adapter := newTestAdapter(t)

	events := collectEvents(t, adapter, "req-1",
		contentChunk("<think>"),
		contentChunk("plan"),
		contentChunk("</think>"),
		contentChunk("Hello"),
		finishChunk("stop"),
	)

	assertEventSequence(t, events, []string{
		"message_start",
		"content_block_start", "ping",
		"content_block_delta", // thinking_delta "plan"
		"content_block_delta", // signature_delta
		"content_block_stop",
		"content_block_start", "ping",
		"content_block_delta", // text_delta "Hello"
		"content_block_stop",
		"message_delta",
		"message_stop",
	})
	checkStreamInvariants(t, events)

	thinkingStart := events[1].Data.(types.ContentBlockStartPayload)
	if thinkingStart.Index != 0 || thinkingStart.ContentBlock.Type != "thinking" {
		t.Errorf("first block = %+v, want thinking at 0", thinkingStart)
	}
	if delta := events[3].Data.(types.ContentBlockDeltaPayload); delta.Delta.Thinking != "plan" {
		t.Errorf("thinking delta = %+v, want plan", delta)
	}
	if delta := events[4].Data.(types.ContentBlockDeltaPayload); delta.Delta.Type != "signature_delta" || delta.Delta.Signature == "" {
		t.Errorf("signature delta = %+v", delta)
	}

	textStart := events[6].Data.(types.ContentBlockStartPayload)
	if textStart.Index != 1 || textStart.ContentBlock.Type != "text" {
		t.Errorf("second block = %+v, want text at 1", textStart)
	}
	if delta := events[8].Data.(types.ContentBlockDeltaPayload); delta.Delta.Text != "Hello" {
		t.Errorf("text delta = %+v, want Hello", delta)
	}
	if md := events[10].Data.(types.MessageDeltaPayload); md.Delta.StopReason != "end_turn" {
		t.Errorf("stop reason = %q, want end_turn", md.Delta.StopReason)
	}
}

func TestConvertStreamSplitClosingTag(t *testing.T) {
	adapter := newTestAdapter(t)

	events := collectEvents(t, adapter, "req-1",
		contentChunk("<think>"),
		contentChunk("reasoning"),
		contentChunk("</thin"),
		contentChunk("king>"),
		contentChunk("after"),
		finishChunk("stop"),
	)

	checkStreamInvariants(t, events)

	// The split tag must not leak into either block's text.
	var thinking, text strings.Builder
	for _, event := range events {
		if delta, ok := event.Data.(types.ContentBlockDeltaPayload); ok {
			thinking.WriteString(delta.Delta.Thinking)
			text.WriteString(delta.Delta.Text)
		}
	}
	if thinking.String() != "reasoning" {
		t.Errorf("thinking text = %q, want reasoning", thinking.String())
	}
	if text.String() != "after" {
		t.Errorf("text = %q, want after", text.String())
	}
}

func TestConvertStreamReasoningContent(t *testing.T) {
	adapter := newTestAdapter(t)

	events := collectEvents(t, adapter, "req-1",
		`{"choices":[{"delta":{"reasoning_content":"step one, "}}]}`,
		`{"choices":[{"delta":{"reasoning_content":"step two"}}]}`,
		contentChunk("the answer"),
		finishChunk("stop"),
	)

	assertEventSequence(t, events, []string{
		"message_start",
		"content_block_start", "ping",
		"content_block_delta", // thinking "step one, "
		"content_block_delta", // thinking "step two"
		"content_block_delta", // signature_delta
		"content_block_stop",
		"content_block_start", "ping",
		"content_block_delta", // text "the answer"
		"content_block_stop",
		"message_delta",
		"message_stop",
	})
	checkStreamInvariants(t, events)
}

func TestConvertStreamToolCall(t *testing.T) {
	adapter := newTestAdapter(t)

	events := collectEvents(t, adapter, "req-1",
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"x","function":{"name":"f","arguments":"{\"a\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}`,
		finishChunk("tool_calls"),
	)

	assertEventSequence(t, events, []string{
		"message_start",
		"content_block_start", "ping",
		"content_block_delta", // {"a":
		"content_block_delta", // 1}
		"content_block_stop",
		"message_delta",
		"message_stop",
	})
	checkStreamInvariants(t, events)

	start := events[1].Data.(types.ContentBlockStartPayload)
	if start.ContentBlock.Type != "tool_use" || start.ContentBlock.ID != "x" || start.ContentBlock.Name != "f" {
		t.Errorf("tool block = %+v, want tool_use x/f", start.ContentBlock)
	}
	if len(start.ContentBlock.Input) != 0 {
		t.Errorf("tool block input = %+v, want empty", start.ContentBlock.Input)
	}

	first := events[3].Data.(types.ContentBlockDeltaPayload)
	second := events[4].Data.(types.ContentBlockDeltaPayload)
	if first.Delta.PartialJSON != `{"a":` || second.Delta.PartialJSON != "1}" {
		t.Errorf("partial json fragments = %q, %q", first.Delta.PartialJSON, second.Delta.PartialJSON)
	}

	if md := events[6].Data.(types.MessageDeltaPayload); md.Delta.StopReason != "tool_use" {
		t.Errorf("stop reason = %q, want tool_use", md.Delta.StopReason)
	}
}

func TestConvertStreamTextThenToolCalls(t *testing.T) {
	adapter := newTestAdapter(t)

	events := collectEvents(t, adapter, "req-1",
		contentChunk("Let me check."),
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"a","function":{"name":"f","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"b","function":{"name":"g","arguments":"{}"}}]}}]}`,
		finishChunk("tool_calls"),
	)

	checkStreamInvariants(t, events)

	// Three blocks: text at 0, tools at 1 and 2.
	var blockTypes []string
	for _, event := range events {
		if start, ok := event.Data.(types.ContentBlockStartPayload); ok {
			blockTypes = append(blockTypes, start.ContentBlock.Type)
		}
	}
	want := []string{"text", "tool_use", "tool_use"}
	if len(blockTypes) != len(want) {
		t.Fatalf("block types = %v, want %v", blockTypes, want)
	}
	for i := range want {
		if blockTypes[i] != want[i] {
			t.Fatalf("block types = %v, want %v", blockTypes, want)
		}
	}
}

func TestConvertStreamSyntheticToolIdentity(t *testing.T) {
	adapter := newTestAdapter(t)

	events := collectEvents(t, adapter, "req-1",
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"real","function":{"name":"f","arguments":"}"}}]}}]}`,
		finishChunk("tool_calls"),
	)

	checkStreamInvariants(t, events)

	start := events[1].Data.(types.ContentBlockStartPayload)
	if !strings.HasPrefix(start.ContentBlock.ID, "call_") {
		t.Errorf("synthesized id = %q, want call_ prefix", start.ContentBlock.ID)
	}
	if start.ContentBlock.Name != "tool_0" {
		t.Errorf("synthesized name = %q, want tool_0", start.ContentBlock.Name)
	}
}

func TestConvertStreamMessageStartUsage(t *testing.T) {
	adapter := newTestAdapter(t)
	adapter.cache.Put("req-1", 123)

	events := collectEvents(t, adapter, "req-1",
		contentChunk("hi"),
		finishChunk("stop"),
	)

	start := events[0].Data.(types.MessageStartPayload)
	if start.Message.Usage.InputTokens != 123 {
		t.Errorf("message_start input_tokens = %d, want cached 123", start.Message.Usage.InputTokens)
	}
	if start.Message.ID == "" || !strings.HasPrefix(start.Message.ID, "msg_") {
		t.Errorf("message id = %q, want msg_ prefix", start.Message.ID)
	}
	if start.Message.Model != "claude-3-5-sonnet-20241022" {
		t.Errorf("model = %q", start.Message.Model)
	}
}

func TestConvertStreamUsageSynthesis(t *testing.T) {
	adapter := newTestAdapter(t)
	adapter.cache.Put("req-1", 77)

	events := collectEvents(t, adapter, "req-1",
		contentChunk("a response of several words for counting"),
		finishChunk("stop"), // no usage on the terminal chunk
	)

	md := events[len(events)-2].Data.(types.MessageDeltaPayload)
	if md.Usage.InputTokens != 77 {
		t.Errorf("input_tokens = %d, want cached 77", md.Usage.InputTokens)
	}
	if md.Usage.OutputTokens <= 0 {
		t.Errorf("output_tokens = %d, want estimated > 0", md.Usage.OutputTokens)
	}

	// Finalization consumes the cache entry.
	if _, ok := adapter.cache.Get("req-1", false); ok {
		t.Error("cache entry survived finalization")
	}
}

func TestConvertStreamUpstreamUsagePassThrough(t *testing.T) {
	adapter := newTestAdapter(t)

	events := collectEvents(t, adapter, "req-1",
		contentChunk("hello"),
		`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":20}}`,
	)

	md := events[len(events)-2].Data.(types.MessageDeltaPayload)
	if md.Usage.InputTokens != 10 || md.Usage.OutputTokens != 20 {
		t.Errorf("usage = %+v, want 10/20", md.Usage)
	}
}

func TestConvertStreamStopReasonMapping(t *testing.T) {
	tests := []struct {
		finish string
		want   string
	}{
		{"stop", "end_turn"},
		{"length", "max_tokens"},
		{"tool_calls", "tool_use"},
		{"content_filter", "stop_sequence"},
		{"other", "end_turn"},
	}

	for _, tt := range tests {
		t.Run(tt.finish, func(t *testing.T) {
			adapter := newTestAdapter(t)
			events := collectEvents(t, adapter, "req-1",
				contentChunk("x"),
				finishChunk(tt.finish),
			)

			md := events[len(events)-2].Data.(types.MessageDeltaPayload)
			if md.Delta.StopReason != tt.want {
				t.Errorf("stop reason = %q, want %q", md.Delta.StopReason, tt.want)
			}
		})
	}
}

func TestConvertStreamIgnoresChunksAfterFinish(t *testing.T) {
	adapter := newTestAdapter(t)

	events := collectEvents(t, adapter, "req-1",
		contentChunk("hello"),
		finishChunk("stop"),
		contentChunk("late straggler"),
	)

	if names := eventNames(events); names[len(names)-1] != "message_stop" {
		t.Errorf("events after message_stop: %v", names)
	}
	checkStreamInvariants(t, events)
}

func TestConvertStreamSkipsMalformedChunks(t *testing.T) {
	adapter := newTestAdapter(t)

	events := collectEvents(t, adapter, "req-1",
		`{not json`,
		contentChunk("hello"),
		finishChunk("stop"),
	)

	checkStreamInvariants(t, events)

	var text strings.Builder
	for _, event := range events {
		if delta, ok := event.Data.(types.ContentBlockDeltaPayload); ok {
			text.WriteString(delta.Delta.Text)
		}
	}
	if text.String() != "hello" {
		t.Errorf("text = %q, want hello", text.String())
	}
}

func TestConvertStreamInBandError(t *testing.T) {
	adapter := newTestAdapter(t)

	events := collectEvents(t, adapter, "req-1",
		`{"error":{"message":"overloaded"}}`,
		contentChunk("still going"),
		finishChunk("stop"),
	)

	if events[0].Event != "error" {
		t.Fatalf("first event = %q, want error", events[0].Event)
	}
	payload := events[0].Data.(types.StreamErrorPayload)
	if payload.Message.Type != "api_error" || !strings.Contains(payload.Message.Message, "overloaded") {
		t.Errorf("error payload = %+v", payload)
	}

	// The stream continues after an in-band error.
	checkStreamInvariants(t, events[1:])
}

func TestConvertStreamEarlyEOF(t *testing.T) {
	adapter := newTestAdapter(t)

	// No finish_reason chunk at all: best-effort finalization.
	events := collectEvents(t, adapter, "req-1",
		contentChunk("partial answ"),
	)

	checkStreamInvariants(t, events)
	if names := eventNames(events); names[len(names)-1] != "message_stop" {
		t.Errorf("stream did not finalize: %v", names)
	}
}

func TestConvertStreamCancellationStopsConsumption(t *testing.T) {
	adapter := newTestAdapter(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count int
	for range adapter.ConvertStream(ctx, sseStream(
		contentChunk("one"),
		contentChunk("two"),
		contentChunk("three"),
		finishChunk("stop"),
	), "m", "req-1") {
		count++
		cancel()
	}

	// message_start and the first text block events arrive in one batch;
	// nothing from later chunks may follow the cancellation.
	if count == 0 || count > 4 {
		t.Errorf("events after cancel = %d, want the first chunk's batch only", count)
	}
}
