package types

// Stop reasons reported on assistant messages.
const (
	StopReasonEndTurn      = "end_turn"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonToolUse      = "tool_use"
	StopReasonStopSequence = "stop_sequence"
	StopReasonFilter       = "content_filter"
)

// MessageResponse is the Anthropic Messages API response body.
type MessageResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage carries token accounting for one exchange.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Stream event names, in the order a well-formed stream produces them.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventPing              = "ping"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// Delta discriminators inside content_block_delta events.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeThinking  = "thinking_delta"
	DeltaTypeSignature = "signature_delta"
	DeltaTypeInputJSON = "input_json_delta"
)

// StreamEvent pairs an SSE event name with its JSON payload.
type StreamEvent struct {
	Event string
	Data  any
}

// MessageStartPayload opens a stream.
type MessageStartPayload struct {
	Type    string       `json:"type"`
	Message MessageStart `json:"message"`
}

// MessageStart is the skeletal message carried by message_start.
type MessageStart struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// ContentBlockStartPayload opens content block Index.
type ContentBlockStartPayload struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// PingPayload is a keepalive marker.
type PingPayload struct {
	Type string `json:"type"`
}

// ContentBlockDeltaPayload carries one incremental update for block Index.
type ContentBlockDeltaPayload struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// BlockDelta is the typed delta inside a content_block_delta event.
type BlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockStopPayload closes content block Index.
type ContentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaPayload carries the stop reason and final usage.
type MessageDeltaPayload struct {
	Type  string       `json:"type"`
	Delta MessageDelta `json:"delta"`
	Usage Usage        `json:"usage"`
}

// MessageDelta holds the terminal message-level fields.
type MessageDelta struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessageStopPayload terminates a stream.
type MessageStopPayload struct {
	Type string `json:"type"`
}

// StreamErrorPayload is the in-band error event emitted after the HTTP
// status line has already been sent.
type StreamErrorPayload struct {
	Type    string             `json:"type"`
	Message StreamErrorMessage `json:"message"`
}

// StreamErrorMessage is the error body inside a stream error event.
type StreamErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewStreamError builds an in-band api_error event.
func NewStreamError(message string) *StreamEvent {
	return &StreamEvent{
		Event: EventError,
		Data: StreamErrorPayload{
			Type: EventError,
			Message: StreamErrorMessage{
				Type:    string(ErrorTypeAPI),
				Message: message,
			},
		},
	}
}
