package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orgpilot/voice-agent-service/internal/config"
	"github.com/orgpilot/voice-agent-service/internal/metrics"
	"github.com/orgpilot/voice-agent-service/internal/registry"
	"github.com/orgpilot/voice-agent-service/internal/session"
	"github.com/orgpilot/voice-agent-service/internal/telephony"
)

// CallPlacer places outbound calls; satisfied by telephony.Dialer.
type CallPlacer interface {
	PlaceCall(ctx context.Context, toNumber, voiceURL string) (string, error)
}

// SessionBuilder constructs and starts a call session for one media stream.
// The production builder wires the real recognizer, responder and
// synthesizer; tests substitute fakes.
type SessionBuilder func(ctx context.Context, streamID string, spec registry.CallSpec, sender session.MediaSender) (*session.Session, error)

// HTTPServer provides the service's HTTP surface: call placement and
// registration, the telephony voice webhook, the media-stream WebSocket and
// monitoring endpoints.
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	sessions *session.Manager
	registry *registry.Registry
	dialer   CallPlacer
	builder  SessionBuilder
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP server with all routes configured.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sessions *session.Manager, reg *registry.Registry,
	dialer CallPlacer, builder SessionBuilder, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sessions:  sessions,
		registry:  reg,
		dialer:    dialer,
		builder:   builder,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Call placement and registration
	mux.HandleFunc("/calls", h.withMetrics("/calls", h.handleDial))
	mux.HandleFunc("/calls/register", h.withMetrics("/calls/register", h.handleRegister))

	// Telephony provider callbacks
	mux.HandleFunc("/twilio/voice", h.withMetrics("/twilio/voice", h.handleVoiceWebhook))

	// Media stream WebSocket; no metrics middleware, the connection is
	// long-lived and instrumented per frame instead.
	mux.HandleFunc("/media-stream", h.handleMediaStream)

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring endpoints
	mux.HandleFunc("/streams", h.withMetrics("/streams", h.handleStreams))
	mux.HandleFunc("/streams/", h.withMetrics("/streams/{id}", h.handleStreamDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// dialRequest is the body of POST /calls.
type dialRequest struct {
	ToNumber     string `json:"to_number"`
	Action       string `json:"action"`
	Context      string `json:"context"`
	CalleeName   string `json:"callee_name"`
	AgentName    string `json:"agent_name"`
	Organization string `json:"organization"`
}

// registerRequest is the body of POST /calls/register. The setup ID is
// optional; one is generated when absent.
type registerRequest struct {
	CallSetupID  string `json:"call_setup_id,omitempty"`
	Action       string `json:"action"`
	Context      string `json:"context"`
	CalleeName   string `json:"callee_name"`
	AgentName    string `json:"agent_name"`
	Organization string `json:"organization"`
}

func specFromRequest(action, context, calleeName, agentName, organization string) registry.CallSpec {
	spec := registry.DefaultSpec()
	if action != "" {
		spec.Action = action
	}
	if context != "" {
		spec.Context = context
	}
	if calleeName != "" {
		spec.CalleeName = calleeName
	}
	if agentName != "" {
		spec.AgentName = agentName
	}
	if organization != "" {
		spec.Organization = organization
	}
	return spec
}

// handleDial implements POST /calls: register the call specification and
// place the outbound call in one step.
func (h *HTTPServer) handleDial(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req dialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ToNumber == "" {
		http.Error(w, "to_number is required", http.StatusBadRequest)
		return
	}
	if req.Action == "" {
		http.Error(w, "action is required", http.StatusBadRequest)
		return
	}

	callSetupID := uuid.NewString()
	spec := specFromRequest(req.Action, req.Context, req.CalleeName, req.AgentName, req.Organization)
	h.registry.Register(callSetupID, spec)
	h.metrics.SetRegisteredSpecs(h.registry.Len())

	voiceURL := fmt.Sprintf("https://%s/twilio/voice?%s=%s",
		h.config.HTTP.PublicHost, telephony.CallSetupParameter, callSetupID)

	callSID, err := h.dialer.PlaceCall(r.Context(), req.ToNumber, voiceURL)
	if err != nil {
		h.metrics.RecordCallPlacementFailure()
		h.logger.Error("Call placement failed",
			slog.String("call_setup_id", callSetupID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Call placement failed", http.StatusBadGateway)
		return
	}
	h.metrics.RecordCallPlaced()

	h.logger.Info("Call placed",
		slog.String("call_setup_id", callSetupID),
		slog.String("call_sid", callSID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"call_setup_id": callSetupID,
		"call_sid":      callSID,
	})
}

// handleRegister implements POST /calls/register: store a call specification
// for a call that will be placed out of band.
func (h *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Action == "" {
		http.Error(w, "action is required", http.StatusBadRequest)
		return
	}

	callSetupID := req.CallSetupID
	if callSetupID == "" {
		callSetupID = uuid.NewString()
	}

	spec := specFromRequest(req.Action, req.Context, req.CalleeName, req.AgentName, req.Organization)
	h.registry.Register(callSetupID, spec)
	h.metrics.SetRegisteredSpecs(h.registry.Len())

	h.logger.Info("Call specification registered",
		slog.String("call_setup_id", callSetupID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"call_setup_id": callSetupID,
	})
}

// handleVoiceWebhook implements POST /twilio/voice: the provider fetches the
// call's TwiML here when the callee answers.
func (h *HTTPServer) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	callSetupID := r.URL.Query().Get(telephony.CallSetupParameter)
	if callSetupID == "" {
		h.logger.Warn("Voice webhook without call setup ID")
	}

	twiml := telephony.AnswerTwiML(h.config.HTTP.PublicHost, callSetupID)

	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprint(w, twiml)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	activeCalls := h.sessions.Count()

	status := "healthy"
	if limit := h.config.Session.MaxConcurrentCalls; limit > 0 && activeCalls >= limit {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "voice-agent-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"sessions": map[string]interface{}{
				"status":       "running",
				"active_calls": activeCalls,
			},
			"registry": map[string]interface{}{
				"status":        "running",
				"pending_specs": h.registry.Len(),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStreams implements the /streams endpoint
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.sessions.Snapshots()

	response := map[string]interface{}{
		"total_streams": len(infos),
		"timestamp":     time.Now().UTC(),
		"streams":       infos,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStreamDetail implements the /streams/{stream_id} endpoint
func (h *HTTPServer) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	streamID := r.URL.Path[len("/streams/"):]
	if streamID == "" {
		http.Error(w, "Stream ID required", http.StatusBadRequest)
		return
	}

	sess, exists := h.sessions.Get(streamID)
	if !exists {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess.Snapshot())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration; credentials are omitted.
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":        h.config.HTTP.Port,
			"address":     h.config.HTTP.Address,
			"public_host": h.config.HTTP.PublicHost,
		},
		"recognizer": map[string]interface{}{
			"model":           h.config.Recognizer.Model,
			"endpointing_ms":  h.config.Recognizer.EndpointingMs,
			"connect_timeout": h.config.Recognizer.ConnectTimeout,
		},
		"synthesizer": map[string]interface{}{
			"voice_id":         h.config.Synthesizer.VoiceID,
			"model_id":         h.config.Synthesizer.ModelID,
			"stability":        h.config.Synthesizer.Stability,
			"similarity_boost": h.config.Synthesizer.SimilarityBoost,
		},
		"responder": map[string]interface{}{
			"model":      h.config.Responder.Model,
			"max_tokens": h.config.Responder.MaxTokens,
			"timeout":    h.config.Responder.Timeout,
		},
		"session": map[string]interface{}{
			"settle_timeout":       h.config.Session.SettleTimeout,
			"settle_delay_ms":      h.config.Session.SettleDelayMs,
			"goodbye_grace_ms":     h.config.Session.GoodbyeGraceMs,
			"stream_timeout":       h.config.Session.StreamTimeout,
			"max_concurrent_calls": h.config.Session.MaxConcurrentCalls,
		},
		"registry": map[string]interface{}{
			"spec_ttl": h.config.Registry.SpecTTL,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.sessions.Count(),
		},
		"registry": map[string]interface{}{
			"pending_specs": h.registry.Len(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voice Agent Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"POST /calls":              "Register and place an outbound call",
			"POST /calls/register":     "Register a call specification",
			"POST /twilio/voice":       "Telephony voice webhook (TwiML)",
			"GET /media-stream":        "Telephony media stream (WebSocket)",
			"GET /health":              "Service health check",
			"GET /streams":             "List all live call sessions",
			"GET /streams/{stream_id}": "Get detailed session information",
			"GET /config":              "Get service configuration",
			"GET /stats":               "Get service statistics",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
