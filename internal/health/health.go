// Package health tracks dependency probes for liveness and readiness.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusOK:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// CheckFunc probes one dependency. It should honour ctx; a probe that
// outlives the checker timeout, or panics, counts as down.
type CheckFunc func(ctx context.Context) Status

// Report is the outcome of one probe round. Status is the worst check
// status. The service is ready unless a dependency is down.
type Report struct {
	Ready     bool              `json:"ready"`
	Status    Status            `json:"status"`
	Checks    map[string]Status `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout bounds each probe. Default 5s.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

// Checker runs registered probes on demand and remembers the last round.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	last    Report
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChecker creates a checker with no probes.
func NewChecker(logger zerolog.Logger, opts ...Option) *Checker {
	c := &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "health").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Register adds or replaces a named probe.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Names lists registered probes in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for n := range c.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunAll executes every probe concurrently and caches the report.
func (c *Checker) RunAll(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	rep := Report{
		Ready:  true,
		Status: StatusOK,
		Checks: make(map[string]Status, len(checks)),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := c.probe(ctx, fn)
			mu.Lock()
			rep.Checks[name] = s
			mu.Unlock()
		}()
	}
	wg.Wait()

	for name, s := range rep.Checks {
		if s.rank() > rep.Status.rank() {
			rep.Status = s
		}
		if s != StatusOK {
			c.logger.Warn().Str("check", name).Str("status", string(s)).Msg("dependency unhealthy")
		}
	}
	rep.Ready = rep.Status != StatusDown
	rep.CheckedAt = time.Now().UTC()

	c.mu.Lock()
	c.last = rep
	c.mu.Unlock()
	return rep
}

func (c *Checker) probe(ctx context.Context, fn CheckFunc) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan Status, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Msg("health probe panicked")
				done <- StatusDown
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case s := <-done:
		return s
	case <-ctx.Done():
		return StatusDown
	}
}

// Last returns the most recent cached report.
func (c *Checker) Last() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// IsReady runs a fresh round and reports whether no probe is down.
func (c *Checker) IsReady(ctx context.Context) bool {
	return c.RunAll(ctx).Ready
}

// LivenessHandler answers /healthz. It never probes dependencies.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessHandler answers /readyz with a fresh report.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := c.RunAll(r.Context())
		body := map[string]any{
			"status":     "ready",
			"overall":    rep.Status,
			"checks":     rep.Checks,
			"checked_at": rep.CheckedAt,
		}
		code := http.StatusOK
		if !rep.Ready {
			body["status"] = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, body)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
