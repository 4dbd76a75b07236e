// Package anthropicadapter defines the contract between the HTTP layer and
// the translation core: the adapter interface handling Anthropic Messages
// requests against a foreign upstream, and the runtime configuration
// snapshot the core consumes.
package anthropicadapter

import (
	"context"
	"iter"

	"github.com/anthrogate/gateway/internal/anthropicadapter/types"
)

// CreateMessageRequest is the inbound Anthropic request an adapter translates.
type CreateMessageRequest = types.MessageRequest

// CreateMessageResponse is the materialized Anthropic response.
type CreateMessageResponse = types.MessageResponse

// StreamEvent is one Anthropic SSE event produced by a streaming adapter.
type StreamEvent = types.StreamEvent

// CreateMessageAdapter translates Anthropic Messages requests into an
// upstream provider's protocol and the provider's responses back.
//
// Implementations receive a per-request configuration snapshot so that a
// hot reload never changes behavior mid-request, and the request id under
// which prompt token counts are cached for usage backfill.
type CreateMessageAdapter interface {
	// ProcessRequest handles a non-streaming request end to end and
	// returns the reassembled Anthropic response.
	ProcessRequest(
		ctx context.Context,
		cfg *Config,
		req *CreateMessageRequest,
		requestID string,
	) (*CreateMessageResponse, error)

	// ProcessStreamingRequest handles a streaming request. The returned
	// iterator yields Anthropic stream events as they are decoded from
	// the upstream; it must be drained or abandoned via ctx cancellation.
	// Errors occurring before the first event are returned directly so
	// the caller can still answer with an HTTP status.
	ProcessStreamingRequest(
		ctx context.Context,
		cfg *Config,
		req *CreateMessageRequest,
		requestID string,
	) (iter.Seq2[*StreamEvent, error], error)
}
