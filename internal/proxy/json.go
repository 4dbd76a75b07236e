package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/anthrogate/gateway/internal/anthropicadapter/types"
)

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeError serializes err into the Anthropic error envelope with its
// mapped status code. Errors that are not already an envelope become an
// api_error.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var envelope *types.ErrorResponse
	if !errors.As(err, &envelope) {
		envelope = types.NewError(types.ErrorTypeAPI, "%s", err.Error())
	}

	writeJSON(ctx, w, envelope, envelope.Detail.Type.HTTPStatus())
}

// writeErrorMessage writes an envelope of the given taxonomy type.
func writeErrorMessage(ctx context.Context, w http.ResponseWriter, errType types.ErrorType, message string) {
	writeError(ctx, w, types.NewError(errType, "%s", message))
}
