package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/StanleyChanH/MicroClaw/internal/observability"
	"github.com/StanleyChanH/MicroClaw/pkg/agent"
	"github.com/StanleyChanH/MicroClaw/pkg/gateway"
)

// ServerOptions configures the webhook server.
type ServerOptions struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	// Timeout bounds a single turn handled via POST /message.
	Timeout time.Duration
}

// Server exposes the gateway over HTTP: POST /message for blocking
// turns, GET /stream for chunked turns over websocket, plus /health
// and /metrics.
type Server struct {
	options     ServerOptions
	gateway     *gateway.Gateway
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
	server      *http.Server
	startTime   time.Time

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlight       sync.WaitGroup
}

// NewServer wires a server around a gateway.
func NewServer(options ServerOptions, gw *gateway.Gateway, logger zerolog.Logger) (*Server, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if options.Port == 0 {
		options.Port = 8080
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 100
	}
	if options.Timeout == 0 {
		options.Timeout = 120 * time.Second
	}

	return &Server{
		options:     options,
		gateway:     gw,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/message", s.handleMessage)
	mux.HandleFunc("/stream", s.handleStream)
	mux.Handle("/metrics", observability.MetricsHandler())
	return mux
}

// Start runs the HTTP server and blocks until it is stopped.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting webhook server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	s.rateLimiter.Stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.shuttingDown() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	ip := clientIP(r)
	if !s.rateLimiter.Allow(ip) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", s.rateLimiter.RetryAfter(ip)))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var msg gateway.Incoming
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg.Channel == "" {
		msg.Channel = "webhook"
	}
	if msg.Sender == "" {
		writeError(w, http.StatusBadRequest, "sender is required")
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Done()

	ctx, cancel := context.WithTimeout(r.Context(), s.options.Timeout)
	defer cancel()

	out, err := s.gateway.Handle(ctx, msg)
	if err != nil {
		s.logger.Error().Err(err).Str("channel", msg.Channel).Msg("Message handling failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStream upgrades to websocket, reads one Incoming message, and
// streams the turn's chunks back as JSON frames.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	ip := clientIP(r)
	if !s.rateLimiter.Allow(ip) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	var msg gateway.Incoming
	if err := conn.ReadJSON(&msg); err != nil {
		_ = conn.WriteJSON(map[string]string{"type": "error", "error": "invalid message"})
		return
	}
	if msg.Channel == "" {
		msg.Channel = "webhook"
	}

	s.inFlight.Add(1)
	defer s.inFlight.Done()

	stream, err := s.gateway.HandleStream(r.Context(), msg)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"type": "error", "error": err.Error()})
		return
	}
	defer stream.Cancel()

	for chunk := range stream.C {
		frame := streamFrame(chunk)
		if err := conn.WriteJSON(frame); err != nil {
			s.logger.Warn().Err(err).Msg("Websocket write failed, cancelling turn")
			stream.Cancel()
			for range stream.C {
			}
			return
		}
	}
}

// streamFrame flattens a chunk into a JSON-friendly frame; errors are
// not JSON-serializable as-is.
func streamFrame(chunk agent.Chunk) map[string]interface{} {
	frame := map[string]interface{}{"type": string(chunk.Type)}
	switch chunk.Type {
	case agent.ChunkText:
		frame["text"] = chunk.Text
	case agent.ChunkToolCall:
		frame["tool_call"] = chunk.ToolCall
	case agent.ChunkToolResult:
		frame["tool_result"] = chunk.ToolResult
	case agent.ChunkDone:
		frame["result"] = chunk.Result
	case agent.ChunkError:
		if chunk.Err != nil {
			frame["error"] = chunk.Err.Error()
		}
	}
	return frame
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
