// Package proxy is the HTTP surface of the gateway: the Messages
// endpoint, the health probe, and the middleware chain around them.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/anthrogate/gateway/internal/anthropicadapter"
	"github.com/anthrogate/gateway/internal/anthropicadapter/types"
)

// Proxy is the translation gateway's HTTP server.
type Proxy struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates the gateway handler around a config publisher and a
// message adapter. The publisher is consulted per request so hot reloads
// take effect without a restart.
func New(config *anthropicadapter.Publisher, adapter anthropicadapter.CreateMessageAdapter) (*Proxy, error) {
	if config == nil {
		return nil, fmt.Errorf("config publisher is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("message adapter is required")
	}

	messagesHandler := &MessagesHandler{
		Config:  config,
		Adapter: adapter,
	}

	logger := slog.Default()

	mux := http.NewServeMux()

	mux.Handle("POST /v1/messages", applyMiddlewares(messagesHandler,
		Recovery,
		Logging(logger),
		RequestID,
		Timeout(config),
		Auth(config),
	))

	mux.Handle("GET /healthz", applyMiddlewares(http.HandlerFunc(handleHealthz),
		RequestID,
	))

	// Unknown routes answer with the error envelope rather than the
	// default plain-text 404.
	mux.Handle("/", applyMiddlewares(http.HandlerFunc(handleNotFound),
		RequestID,
		Logging(logger),
	))

	return &Proxy{mux: mux}, nil
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: Read entire client request (DoS protection against slow clients)
		WriteTimeout: 15 * time.Minute, // Inbound: Write entire response to client (allows long SSE streams, still bounded)
		IdleTimeout:  90 * time.Second, // Inbound: Keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

// handleHealthz is a trivial liveness probe; it performs no upstream check.
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, map[string]string{"status": "ok"}, http.StatusOK)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorMessage(r.Context(), w, types.ErrorTypeNotFound, fmt.Sprintf("%s %s is not a known route", r.Method, r.URL.Path))
}
