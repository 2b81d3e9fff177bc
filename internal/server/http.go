package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sjin4861/deepcatch-agent/internal/bridge"
	"github.com/sjin4861/deepcatch-agent/internal/callstore"
	"github.com/sjin4861/deepcatch-agent/internal/carrier"
	"github.com/sjin4861/deepcatch-agent/internal/config"
	"github.com/sjin4861/deepcatch-agent/internal/engine"
	"github.com/sjin4861/deepcatch-agent/internal/metrics"
)

// CallRunner executes one outbound call to completion. Satisfied by
// *engine.Engine.
type CallRunner interface {
	Run(ctx context.Context, req engine.CallRequest) engine.Result
}

// Bridger accepts newly connected telephony legs. Satisfied by
// *bridge.Manager.
type Bridger interface {
	CreateSession(ctx context.Context, callSID string, tconn bridge.TelephonyConn) (*bridge.Session, error)
	ActiveSessionCount() int
}

// HTTPServer exposes the call API, the carrier webhooks, and monitoring
// endpoints.
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	store   *callstore.Store
	bridges Bridger
	runner  CallRunner
	metrics *metrics.Metrics

	upgrader  websocket.Upgrader
	startTime time.Time
}

// NewHTTPServer creates the API server. The handler is ready before Start
// is called, so tests can drive it through httptest directly.
func NewHTTPServer(cfg config.ServerConfig, logger *slog.Logger,
	store *callstore.Store, bridges Bridger, runner CallRunner, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:  logger,
		store:   store,
		bridges: bridges,
		runner:  runner,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the carrier connects from its own infrastructure
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: POST /calls holds the response open for the
		// whole call run
	}

	return h
}

// Routes builds the router.
func (h *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/calls", h.withMetrics("/calls", h.handleStartCall))
	r.Get("/calls/{callSID}", h.withMetrics("/calls/{callSID}", h.handleCallDetail))

	r.Post("/voice/status", h.withMetrics("/voice/status", h.handleVoiceStatus))
	r.Get("/voice/stream", h.handleVoiceStream)

	return r
}

// withMetrics wraps a handler with per-endpoint request metrics.
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		h.metrics.RecordHTTPRequest(r.Method, endpoint,
			fmt.Sprintf("%d", ww.statusCode), time.Since(startTime).Seconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start begins serving in the background.
func (h *HTTPServer) Start() error {
	h.logger.Info("starting HTTP server", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("stopping HTTP server")
	return h.server.Shutdown(ctx)
}

// handleStartCall runs an outbound call synchronously and returns its
// result. The connection stays open for the duration of the call.
func (h *HTTPServer) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req engine.CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Phone == "" && req.ScenarioID == "" {
		http.Error(w, "phone or scenario_id required", http.StatusBadRequest)
		return
	}

	result := h.runner.Run(r.Context(), req)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleCallDetail returns the live snapshot of a call still held in the
// runtime store. Finished calls are cleaned out and return 404.
func (h *HTTPServer) handleCallDetail(w http.ResponseWriter, r *http.Request) {
	callSID := chi.URLParam(r, "callSID")

	status, ok := h.store.GetStatus(callSID)
	turns := h.store.PeekTranscript(callSID)
	if !ok && len(turns) == 0 {
		http.Error(w, "call not found", http.StatusNotFound)
		return
	}

	snapshot := map[string]interface{}{
		"call_sid":   callSID,
		"status":     status,
		"final":      callstore.IsFinalStatus(status),
		"transcript": turns,
		"timestamp":  time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// handleVoiceStatus receives carrier status webhooks and folds them into
// the runtime store.
func (h *HTTPServer) handleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	update, ok := carrier.ParseStatusCallback(r)
	if !ok {
		http.Error(w, "missing CallSid or CallStatus", http.StatusBadRequest)
		return
	}

	h.store.UpdateStatus(update.CallSID, update.Status)
	h.logger.Debug("carrier status update",
		slog.String("call_sid", update.CallSID),
		slog.String("status", update.Status))

	w.WriteHeader(http.StatusNoContent)
}

// handleVoiceStream upgrades the carrier's media websocket and hands it to
// the bridge manager.
func (h *HTTPServer) handleVoiceStream(w http.ResponseWriter, r *http.Request) {
	callSID := r.URL.Query().Get("call_sid")
	if callSID == "" {
		http.Error(w, "call_sid query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("call_sid", callSID),
			slog.String("error", err.Error()))
		return
	}

	if _, err := h.bridges.CreateSession(r.Context(), callSID, conn); err != nil {
		h.logger.Error("bridge session creation failed",
			slog.String("call_sid", callSID),
			slog.String("error", err.Error()))
		return
	}
}

// handleHealth implements the /health endpoint.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "deepcatch-agent",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"bridges": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.bridges.ActiveSessionCount(),
			},
			"calls": map[string]interface{}{
				"active_count": len(h.store.ActiveCalls()),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleRoot serves a short API index.
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "deepcatch outbound call agent",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                 "API documentation",
			"GET /health":           "Service health check",
			"GET /metrics":          "Prometheus metrics",
			"POST /calls":           "Place an outbound call and wait for its result",
			"GET /calls/{call_sid}": "Live snapshot of a running call",
			"POST /voice/status":    "Carrier status webhook",
			"GET /voice/stream":     "Carrier media websocket",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
