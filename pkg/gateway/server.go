// Package gateway exposes the agent runtime over HTTP: REST endpoints for
// threads and runs, a WebSocket stream per run, and Prometheus metrics. Runs
// started through the gateway are detached from the request context and
// tracked in a runs.Registry so they survive the originating request and can
// be stopped remotely.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/z1w2r3/suna-sub001/internal/observability"
	"github.com/z1w2r3/suna-sub001/internal/tracing"
	"github.com/z1w2r3/suna-sub001/pkg/agent"
	"github.com/z1w2r3/suna-sub001/pkg/runs"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
)

// SecretHeader authenticates API requests. Health and metrics stay open.
const SecretHeader = "X-Agentcore-Secret"

const (
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Config holds the gateway server configuration.
type Config struct {
	// Port to listen on.
	Port int
	// SharedSecret authenticates API clients via the X-Agentcore-Secret header.
	SharedSecret string
	// MetricsPath is where Prometheus metrics are served. Defaults to /metrics.
	MetricsPath string
	// WriteTimeout bounds each WebSocket frame write. Defaults to 10s.
	WriteTimeout time.Duration
	// RetainFeeds is how long finished run feeds stay subscribable.
	RetainFeeds time.Duration

	Store    thread.Store
	Runner   *agent.Runner
	Registry *runs.Registry
	// Hub is optional; a fresh one is created when nil.
	Hub    *Hub
	Logger zerolog.Logger

	// RunDefaults seeds run parameters that request bodies leave out. A zero
	// Model falls back to agent.DefaultRunParams.
	RunDefaults agent.RunParams
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive, got %d", c.Port)
	}
	if c.SharedSecret == "" {
		return errors.New("shared secret is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Runner == nil {
		return errors.New("runner is required")
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	return nil
}

// Server is the gateway HTTP server.
type Server struct {
	port         int
	sharedSecret string
	metricsPath  string
	writeTimeout time.Duration

	store       thread.Store
	runner      *agent.Runner
	registry    *runs.Registry
	hub         *Hub
	logger      zerolog.Logger
	runDefaults agent.RunParams

	upgrader websocket.Upgrader
	server   *http.Server

	runWG sync.WaitGroup

	shutdownMu     sync.Mutex
	isShuttingDown bool
}

// NewServer creates a gateway server from the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(cfg.RetainFeeds, cfg.Logger)
	}
	defaults := cfg.RunDefaults
	if defaults.Model == "" {
		defaults = agent.DefaultRunParams()
	}

	observability.EnsureRegistered()

	return &Server{
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		metricsPath:  metricsPath,
		writeTimeout: writeTimeout,
		store:        cfg.Store,
		runner:       cfg.Runner,
		registry:     cfg.Registry,
		hub:          hub,
		logger:       cfg.Logger.With().Str("component", "gateway").Logger(),
		runDefaults:  defaults,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Hub returns the stream hub runs publish to.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the route table. Exposed so tests can drive the server
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /threads", s.requireSecret(s.handleCreateThread))
	mux.HandleFunc("GET /threads/{id}/messages", s.requireSecret(s.handleListMessages))
	mux.HandleFunc("POST /threads/{id}/runs", s.requireSecret(s.handleStartRun))
	mux.HandleFunc("GET /runs", s.requireSecret(s.handleListRuns))
	mux.HandleFunc("POST /runs/{id}/stop", s.requireSecret(s.handleStopRun))
	mux.HandleFunc("GET /runs/{id}/stream", s.requireSecret(s.handleStream))

	mux.Handle("GET "+s.metricsPath, observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// Start begins listening. It returns immediately; serve errors are logged.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Int("port", s.port).
		Str("metrics_path", s.metricsPath).
		Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop shuts the server down gracefully: it stops accepting new runs, cancels
// the active ones, waits for them to drain, then closes the listener.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	if stopped := s.registry.StopAll(); stopped > 0 {
		s.logger.Info().Int("stopped", stopped).Msg("Canceled active runs")
	}

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(defaultShutdownTimeout):
		s.logger.Warn().Msg("Timed out waiting for runs to drain")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.isShuttingDown
}

func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SecretHeader) != s.sharedSecret {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.store.CreateThread(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create thread")
		writeError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}
	writeJSON(w, http.StatusCreated, threadResponse{ThreadID: th.ID})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	msgs, err := s.store.Messages(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, thread.ErrThreadNotFound) {
			writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		s.logger.Error().Err(err).Str("thread_id", threadID).Msg("Failed to list messages")
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, runsResponse{Runs: s.registry.List()})
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	writeJSON(w, http.StatusOK, stopResponse{Stopped: s.registry.Stop(runID)})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	threadID := r.PathValue("id")
	if _, err := s.store.GetThread(r.Context(), threadID); err != nil {
		if errors.Is(err, thread.ErrThreadNotFound) {
			writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		s.logger.Error().Err(err).Str("thread_id", threadID).Msg("Failed to load thread")
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	}

	var body startRunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	runID, err := runs.NewRunID()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate run ID")
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	params := s.runDefaults
	params.ThreadID = threadID
	params.RunID = runID
	if body.Prompt != "" {
		params.Prompt = body.Prompt
	}
	if body.Model != "" {
		params.Model = body.Model
	}
	if body.SystemPrompt != "" {
		params.SystemPrompt = body.SystemPrompt
	}
	if body.Temperature != nil {
		params.Temperature = *body.Temperature
	}
	if body.MaxTokens != nil {
		params.MaxTokens = *body.MaxTokens
	}
	if body.Stream != nil {
		params.Stream = *body.Stream
	}

	// The run must outlive this request, so detach trace context from the
	// request's cancellation before registering it.
	runCtx, cancel := context.WithCancel(tracing.DetachContext(r.Context()))
	if _, err := s.registry.Start(runID, threadID, cancel); err != nil {
		cancel()
		s.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to register run")
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	s.hub.Open(runID)

	out := make(chan thread.Message, 64)

	s.runWG.Add(2)
	go func() {
		defer s.runWG.Done()
		for msg := range out {
			s.hub.Publish(runID, msg)
		}
		s.hub.Close(runID)
	}()
	go func() {
		defer s.runWG.Done()
		defer cancel()
		defer s.registry.Finish(runID)
		if _, err := s.runner.Run(runCtx, params, out); err != nil {
			s.logger.Error().
				Err(err).
				Str("run_id", runID).
				Str("thread_id", threadID).
				Msg("Run failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, startRunResponse{RunID: runID, ThreadID: threadID})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	history, live, cancelSub, err := s.hub.Subscribe(runID, 256)
	if err != nil {
		if errors.Is(err, ErrFeedNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		cancelSub()
		s.logger.Warn().Err(err).Str("run_id", runID).Msg("WebSocket upgrade failed")
		return
	}

	logger := s.logger.With().Str("run_id", runID).Logger()
	logger.Info().Int("replay", len(history)).Msg("Stream subscriber connected")

	defer func() {
		cancelSub()
		_ = conn.Close()
		logger.Info().Msg("Stream subscriber disconnected")
	}()

	// Drain client frames so close and ping control messages are processed;
	// a read error means the client went away.
	go func() {
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				cancelSub()
				return
			}
		}
	}()

	write := func(msg thread.Message) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if werr := conn.WriteJSON(msg); werr != nil {
			logger.Debug().Err(werr).Msg("Stream write failed")
			return false
		}
		return true
	}

	for _, msg := range history {
		if !write(msg) {
			return
		}
	}
	for msg := range live {
		if !write(msg) {
			return
		}
	}

	// Feed ended normally; tell the client before hanging up.
	deadline := time.Now().Add(s.writeTimeout)
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		deadline,
	)
}
