package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/total-audio/meshos/pkg/mesh"
)

// StatusServer exposes the orchestrator's health and monitoring endpoints.
type StatusServer struct {
	engine *Engine
	store  *mesh.Store
	server *http.Server
}

// NewStatusServer creates the HTTP surface for an orchestrator engine.
func NewStatusServer(engine *Engine, store *mesh.Store) *StatusServer {
	return &StatusServer{
		engine: engine,
		store:  store,
	}
}

// Start starts the HTTP server on the given address in the background.
func (s *StatusServer) Start(addr string) error {
	if addr == "" {
		addr = ":8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/summary", s.summaryHandler)
	mux.HandleFunc("/context", s.contextHandler)
	mux.HandleFunc("/cycle", s.cycleHandler)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("status server error: %v\n", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the JSON body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

// healthHandler reports 200 when Redis is reachable, 503 otherwise.
func (s *StatusServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy", Redis: "connected"}
	code := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		response = HealthResponse{Status: "unhealthy", Redis: "disconnected", Error: err.Error()}
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, response)
}

// statusHandler serves the orchestrator's monitoring counters.
func (s *StatusServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// summaryHandler serves the day-level rollup.
func (s *StatusServer) summaryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := s.engine.Summary(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// contextHandler serves the most recent complete global context.
func (s *StatusServer) contextHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	gc := s.engine.CurrentContext()
	if gc == nil {
		http.Error(w, "no context built yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, gc)
}

// cycleHandler triggers one coordination cycle on demand.
func (s *StatusServer) cycleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.engine.RunCycle(r.Context())
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
