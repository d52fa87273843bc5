package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds the whole probe pass. A probe that does not
// answer in time is reported unhealthy, not waited on.
const healthCheckTimeout = 2 * time.Second

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every registered probe concurrently and returns 200
// when all pass, 503 otherwise. This endpoint is unauthenticated; it is
// meant for load balancers and uptime monitors.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.Probes
	if len(probes) == 0 {
		JSON(w, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	type probeResult struct {
		name string
		err  error
	}

	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(probes))
		wg      sync.WaitGroup
	)

	for _, probe := range probes {
		wg.Add(1)
		go func(name string, check func(context.Context) error) {
			defer wg.Done()

			var err error
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						err = fmt.Errorf("probe panicked: %v", rec)
					}
				}()
				err = check(ctx)
			}()

			mu.Lock()
			results[name] = probeResult{name: name, err: err}
			mu.Unlock()
		}(probe.Name, probe.Check)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Build a partial response; probes missing from the results map are
		// reported as timed out.
	}

	mu.Lock()
	collected := make(map[string]probeResult, len(results))
	for k, v := range results {
		collected[k] = v
	}
	mu.Unlock()

	components := make(map[string]componentStatus, len(probes))
	allHealthy := true
	for _, probe := range probes {
		result, ok := collected[probe.Name]
		switch {
		case !ok:
			allHealthy = false
			components[probe.Name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case result.err != nil:
			allHealthy = false
			components[probe.Name] = componentStatus{Status: "unhealthy", Message: result.err.Error()}
		default:
			components[probe.Name] = componentStatus{Status: "healthy"}
		}
	}

	resp := healthResponse{Components: components}
	if allHealthy {
		resp.Status = "healthy"
		JSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "unhealthy"
	JSON(w, http.StatusServiceUnavailable, resp)
}
