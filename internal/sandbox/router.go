package sandbox

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/api"
	"github.com/Must-be-Ash/freepik-402demo/internal/interfaces"
)

// NewRouter exposes the simulator over HTTP using the provider's paths
func NewRouter(sim *Simulator, generatePath, statusPath string) *mux.Router {
	h := &handler{sim: sim, logger: sim.logger}

	r := mux.NewRouter()
	r.HandleFunc(generatePath, h.generate).Methods("POST")
	r.HandleFunc(strings.TrimSuffix(statusPath, "/")+"/{task_id}", h.status).Methods("GET")
	r.HandleFunc("/sandbox/tasks/{task_id}/complete", h.complete).Methods("POST")
	r.HandleFunc("/health", h.health).Methods("GET")

	r.Use(h.loggingMiddleware)
	return r
}

type handler struct {
	sim    *Simulator
	logger *zap.Logger
}

func (h *handler) generate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Failed to read body"})
		return
	}

	resp, err := h.sim.Generate(r.Context(), interfaces.GenerateCall{
		APIKey:  r.Header.Get(api.HeaderProviderAPIKey),
		Body:    body,
		Payment: r.Header.Get(api.HeaderPayment),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeResponse(w, resp)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	resp, err := h.sim.TaskStatus(r.Context(), r.Header.Get(api.HeaderProviderAPIKey), taskID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeResponse(w, resp)
}

// complete finishes a task on demand, for simulators running without a completion delay
func (h *handler) complete(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	if err := h.sim.Complete(r.Context(), taskID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "task_id": taskID})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "provider-sandbox",
	})
}

func (h *handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("sandbox request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeResponse(w http.ResponseWriter, resp *interfaces.UpstreamResponse) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
