package stubserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusServer exposes health, recorded sessions and metrics of a stub server over HTTP
type StatusServer struct {
	server    *http.Server
	stub      *Server
	logger    *slog.Logger
	startTime time.Time
}

// NewStatusServer creates the HTTP status server for stub, serving metrics from gatherer
func NewStatusServer(addr string, stub *Server, gatherer prometheus.Gatherer, logger *slog.Logger) *StatusServer {
	h := &StatusServer{
		stub:      stub,
		logger:    logger,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/sessions", h.handleSessions)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *StatusServer) Handler() http.Handler {
	return h.server.Handler
}

// Start serves in the background
func (h *StatusServer) Start() {
	h.logger.Info("Starting status server", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("Status server error", slog.String("error", err.Error()))
		}
	}()
}

// Stop gracefully stops the HTTP server
func (h *StatusServer) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func (h *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]any{
		"status":   "healthy",
		"address":  h.stub.Addr(),
		"uptime":   time.Since(h.startTime).String(),
		"sessions": len(h.stub.Received()),
	})
}

func (h *StatusServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	received := h.stub.Received()
	sessions := make([]Summary, 0, len(received))
	for _, rec := range received {
		sessions = append(sessions, rec.Summary())
	}

	writeJSON(w, sessions)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
