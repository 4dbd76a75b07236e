// Package openaichat translates Anthropic Messages traffic to and from an
// OpenAI-compatible Chat Completions upstream.
//
// The three translation stages are the request rewriter (rewrite.go), the
// non-streaming response assembler (response.go) and the streaming
// converter (stream.go). Token accounting shared by all three lives in
// the token package.
package openaichat

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/anthrogate/gateway/internal/anthropicadapter"
	"github.com/anthrogate/gateway/internal/token"
)

// CreateMessageAdapter translates Anthropic Messages requests into Chat
// Completions calls against a configured upstream.
type CreateMessageAdapter struct {
	estimator *token.Estimator
	cache     *token.Cache
	client    *http.Client
	now       func() time.Time
}

// Compile-time interface implementation check.
var _ anthropicadapter.CreateMessageAdapter = (*CreateMessageAdapter)(nil)

// Option configures the adapter.
type Option func(*CreateMessageAdapter)

// WithHTTPClient sets the client used for upstream calls (timeouts, TLS,
// connection pooling, test transports).
func WithHTTPClient(c *http.Client) Option {
	return func(a *CreateMessageAdapter) {
		a.client = c
	}
}

// WithClock sets the time source used for synthesized ids and signatures.
func WithClock(now func() time.Time) Option {
	return func(a *CreateMessageAdapter) {
		a.now = now
	}
}

// NewCreateMessageAdapter creates an adapter sharing the given estimator
// and prompt-token cache.
func NewCreateMessageAdapter(estimator *token.Estimator, cache *token.Cache, opts ...Option) *CreateMessageAdapter {
	a := &CreateMessageAdapter{
		estimator: estimator,
		cache:     cache,
		client:    &http.Client{Transport: DefaultTransport()},
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// ProcessRequest handles a non-streaming request: rewrite, upstream call,
// response assembly.
func (a *CreateMessageAdapter) ProcessRequest(
	ctx context.Context,
	cfg *anthropicadapter.Config,
	req *anthropicadapter.CreateMessageRequest,
	requestID string,
) (*anthropicadapter.CreateMessageResponse, error) {
	upstreamReq, err := a.Rewrite(ctx, cfg, req, requestID)
	if err != nil {
		return nil, err
	}
	upstreamReq.Stream = false

	upstreamResp, err := a.callUpstream(ctx, cfg, upstreamReq)
	if err != nil {
		return nil, err
	}

	return a.Assemble(ctx, upstreamResp, req.Model, requestID)
}

// ProcessStreamingRequest handles a streaming request: rewrite, upstream
// call, then an iterator re-encoding the upstream SSE stream as Anthropic
// events.
func (a *CreateMessageAdapter) ProcessStreamingRequest(
	ctx context.Context,
	cfg *anthropicadapter.Config,
	req *anthropicadapter.CreateMessageRequest,
	requestID string,
) (iter.Seq2[*anthropicadapter.StreamEvent, error], error) {
	upstreamReq, err := a.Rewrite(ctx, cfg, req, requestID)
	if err != nil {
		return nil, err
	}
	upstreamReq.Stream = true

	body, err := a.callUpstreamStreaming(ctx, cfg, upstreamReq)
	if err != nil {
		return nil, err
	}

	return a.ConvertStream(ctx, body, req.Model, requestID), nil
}
