package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string            `json:"status"`
	Backends  map[string]string `json:"backends,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// HealthChecker reports whether a backend is reachable. The vector
// index and model backends implement this via their Health() methods.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
// It probes every registered backend and returns 503 when any is
// unreachable.
func NewHealthHandler(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if len(checks) > 0 {
			response.Backends = make(map[string]string, len(checks))
		}

		code := http.StatusOK
		for name, check := range checks {
			if err := check.Health(ctx); err != nil {
				response.Backends[name] = "disconnected"
				response.Status = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			response.Backends[name] = "connected"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response)
	}
}
