package httpapi

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

type healthStatus string

const (
	statusUp   healthStatus = "up"
	statusDown healthStatus = "down"
)

type healthResponse struct {
	Status    healthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	Status healthStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// Health serves liveness and readiness probes.
type Health struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration
}

func NewHealth() *Health {
	return &Health{checkers: make(map[string]Checker), timeout: 5 * time.Second}
}

// Register adds a named readiness check. Registering a name twice
// replaces the earlier check.
func (h *Health) Register(name string, check Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = check
}

func (h *Health) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: statusUp, Timestamp: time.Now().UTC()})
}

// Ready runs every check concurrently and answers 503 if any fails.
func (h *Health) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]Checker, len(names))
	for i, name := range names {
		checks[i] = h.checkers[name]
	}
	h.mu.RUnlock()

	results := make([]checkResult, len(names))
	var wg sync.WaitGroup
	for i := range checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := checks[i](ctx); err != nil {
				results[i] = checkResult{Status: statusDown, Error: err.Error()}
				return
			}
			results[i] = checkResult{Status: statusUp}
		}(i)
	}
	wg.Wait()

	resp := healthResponse{Status: statusUp, Timestamp: time.Now().UTC(), Checks: make(map[string]checkResult, len(names))}
	for i, name := range names {
		resp.Checks[name] = results[i]
		if results[i].Status == statusDown {
			resp.Status = statusDown
		}
	}

	status := http.StatusOK
	if resp.Status == statusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
