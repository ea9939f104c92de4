package api

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ServiceStatus reports one backing service's reachability.
type ServiceStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse is the JSON body GET /health returns.
type HealthResponse struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceStatus `json:"services,omitempty"`
}

// PingFunc checks connectivity to a backing service; nil means "not configured".
type PingFunc func(ctx context.Context) error

// HealthHandler reports process liveness plus the reachability of whichever
// optional backing stores a deployment configured. Unlike the REST services
// this pattern is usually built for, none of these stores are load-bearing
// for cauce-hub's core dispatch path — the in-memory managers stay
// authoritative regardless — so an unreachable store degrades the report
// without ever failing the health check itself.
type HealthHandler struct {
	pings map[string]PingFunc
}

// NewHealthHandler builds a HealthHandler from whichever ping functions are
// non-nil.
func NewHealthHandler(pings map[string]PingFunc) *HealthHandler {
	h := &HealthHandler{pings: make(map[string]PingFunc)}
	for name, ping := range pings {
		if ping != nil {
			h.pings[name] = ping
		}
	}
	return h
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]ServiceStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, ping := range h.pings {
		wg.Add(1)
		go func(name string, ping PingFunc) {
			defer wg.Done()
			start := time.Now()
			err := ping(ctx)
			latency := time.Since(start).Milliseconds()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				services[name] = ServiceStatus{Status: "unhealthy", LatencyMS: latency, Error: err.Error()}
			} else {
				services[name] = ServiceStatus{Status: "healthy", LatencyMS: latency}
			}
		}(name, ping)
	}
	wg.Wait()

	status := "healthy"
	for _, s := range services {
		if s.Status == "unhealthy" {
			status = "degraded"
			break
		}
	}

	JSON(w, http.StatusOK, HealthResponse{Status: status, Services: services})
}
