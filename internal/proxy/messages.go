package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/anthrogate/gateway/internal/anthropicadapter"
	"github.com/anthrogate/gateway/internal/anthropicadapter/types"
)

// MessagesHandler handles Anthropic Messages API requests, translated
// against the configured upstream by the adapter.
type MessagesHandler struct {
	Config  *anthropicadapter.Publisher
	Adapter anthropicadapter.CreateMessageAdapter
}

// Compile-time check to ensure MessagesHandler implements http.Handler
var _ http.Handler = (*MessagesHandler)(nil)

// ServeHTTP implements http.Handler interface for streaming or non-streaming requests.
func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req types.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.ErrorContext(ctx, "failed to decode request", "error", err)

		// A type mismatch is a schema violation; anything else is a
		// malformed body.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			writeErrorMessage(ctx, w, types.ErrorTypeValidation, "request body does not match the schema: "+err.Error())
			return
		}
		writeErrorMessage(ctx, w, types.ErrorTypeInvalidRequest, "invalid request body")
		return
	}

	cfg := h.Config.Load()
	requestID := RequestIDFromContext(ctx)

	if req.Stream {
		h.streamResponse(ctx, w, cfg, &req, requestID)
	} else {
		h.writeResponse(ctx, w, cfg, &req, requestID)
	}
}

// writeResponse handles non-streaming requests.
func (h *MessagesHandler) writeResponse(
	ctx context.Context,
	w http.ResponseWriter,
	cfg *anthropicadapter.Config,
	req *types.MessageRequest,
	requestID string,
) {
	if ctx.Err() != nil {
		return
	}

	response, err := h.Adapter.ProcessRequest(ctx, cfg, req, requestID)
	if err != nil {
		slog.ErrorContext(ctx, "request failed", "error", err)
		writeError(ctx, w, mapContextError(ctx, err))
		return
	}

	writeJSON(ctx, w, response, http.StatusOK)
}

// streamResponse streams translated events using SSE. Errors before the
// first event still produce an HTTP status; later ones are delivered as
// in-band error events because the status line is already on the wire.
func (h *MessagesHandler) streamResponse(
	ctx context.Context,
	w http.ResponseWriter,
	cfg *anthropicadapter.Config,
	req *types.MessageRequest,
	requestID string,
) {
	if ctx.Err() != nil {
		return
	}

	stream, err := h.Adapter.ProcessStreamingRequest(ctx, cfg, req, requestID)
	if err != nil {
		slog.ErrorContext(ctx, "streaming request failed", "error", err)
		writeError(ctx, w, mapContextError(ctx, err))
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		writeErrorMessage(ctx, w, types.ErrorTypeAPI, "streaming is not supported by this connection")
		return
	}

	for event, err := range stream {
		// Check for client disconnect before processing the event
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				errEvent := types.NewStreamError("request deadline exceeded")
				_ = sse.WriteEvent(errEvent.Event, errEvent.Data)
			} else {
				slog.DebugContext(ctx, "client disconnected during stream")
			}
			return
		}

		if err != nil {
			slog.ErrorContext(ctx, "stream error", "error", err)
			errEvent := types.NewStreamError(err.Error())
			if writeErr := sse.WriteEvent(errEvent.Event, errEvent.Data); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write error event", "error", writeErr)
			}
			return
		}

		if err := sse.WriteEvent(event.Event, event.Data); err != nil {
			slog.ErrorContext(ctx, "failed to write event", "error", err)
			return
		}
	}
}

// mapContextError converts a request-deadline expiry into the timeout
// taxonomy before the generic error writer sees it.
func mapContextError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrorTypeTimeout, "request deadline exceeded")
	}
	return err
}
