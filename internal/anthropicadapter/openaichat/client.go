package openaichat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anthrogate/gateway/internal/anthropicadapter"
	"github.com/anthrogate/gateway/internal/anthropicadapter/types"
)

// errorBodyLimit caps how much of an upstream error body is read back
// into the client-facing error message.
const errorBodyLimit = 8 * 1024

// DefaultTransport returns a fresh http.Transport for upstream calls.
// Clones http.DefaultTransport and adds ResponseHeaderTimeout so a
// silent upstream cannot hang a request indefinitely.
func DefaultTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = 30 * time.Second
	return t
}

// callUpstream posts a non-streaming Chat Completions request and decodes
// the response object.
func (a *CreateMessageAdapter) callUpstream(
	ctx context.Context,
	cfg *anthropicadapter.Config,
	req *Request,
) (*Response, error) {
	httpResp, err := a.post(ctx, cfg, req, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, types.NewError(types.ErrorTypeAPI, "malformed upstream response: %v", err)
	}
	return &resp, nil
}

// callUpstreamStreaming posts a streaming Chat Completions request and
// returns the raw SSE body for the stream converter. The caller owns the
// body.
func (a *CreateMessageAdapter) callUpstreamStreaming(
	ctx context.Context,
	cfg *anthropicadapter.Config,
	req *Request,
) (io.ReadCloser, error) {
	httpResp, err := a.post(ctx, cfg, req, true)
	if err != nil {
		return nil, err
	}
	return httpResp.Body, nil
}

// post executes one upstream call and maps transport and status failures
// onto the error taxonomy. The response is returned only on 2xx.
func (a *CreateMessageAdapter) post(
	ctx context.Context,
	cfg *anthropicadapter.Config,
	req *Request,
	streaming bool,
) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrorTypeAPI, "encode upstream request: %v", err)
	}

	url := strings.TrimSuffix(cfg.Upstream.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrorTypeAPI, "build upstream request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.Upstream.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.Upstream.APIKey)
	}
	if streaming {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrorTypeTimeout, "upstream request deadline exceeded")
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, types.NewError(types.ErrorTypeServer, "upstream unreachable: %v", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer func() { _ = httpResp.Body.Close() }()
		return nil, upstreamStatusError(httpResp)
	}

	return httpResp, nil
}

// upstreamStatusError serializes a non-2xx upstream answer into the
// client-facing envelope, carrying the upstream body in the message.
func upstreamStatusError(resp *http.Response) *types.ErrorResponse {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = resp.Status
	}

	errType := types.ErrorTypeForUpstreamStatus(resp.StatusCode)
	return types.NewError(errType, "upstream returned %d: %s", resp.StatusCode, fmt.Sprintf("%.2000s", message))
}
