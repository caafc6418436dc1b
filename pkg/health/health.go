// Package health serves liveness and readiness probes backed by periodic
// background checks.
//
// A check flips to unhealthy only after FailureThreshold consecutive failures
// and back to healthy after SuccessThreshold consecutive successes, so a
// single slow ping does not take the instance out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked dependency is healthy.
type CheckFunc func(ctx context.Context) error

// Probe selects which endpoint a check contributes to.
type Probe int

const (
	// Liveness checks failing means the process should be restarted.
	Liveness Probe = iota
	// Readiness checks failing means the instance should receive no traffic.
	Readiness
)

// CheckOption tunes a registered check.
type CheckOption func(*check)

// WithTimeout bounds a single run of the check. Defaults to two seconds.
func WithTimeout(d time.Duration) CheckOption {
	return func(c *check) { c.timeout = d }
}

// WithThresholds sets how many consecutive results are needed to change state.
func WithThresholds(failures, successes int) CheckOption {
	return func(c *check) {
		c.failureThreshold = max(failures, 1)
		c.successThreshold = max(successes, 1)
	}
}

type check struct {
	name             string
	fn               CheckFunc
	timeout          time.Duration
	failureThreshold int
	successThreshold int

	mu      sync.Mutex
	healthy bool
	lastErr error
	fails   int
	oks     int
}

func (c *check) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.fn(runCtx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy = false
		}
		return
	}
	c.fails = 0
	c.oks++
	if c.oks >= c.successThreshold {
		c.healthy = true
	}
}

// failure returns the reason the check is unhealthy, or "" when it is healthy.
func (c *check) failure() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.healthy:
		return ""
	case c.lastErr != nil:
		return c.lastErr.Error()
	default:
		return "unhealthy"
	}
}

// Health tracks registered checks and the manual readiness gate used during
// startup and graceful shutdown.
type Health struct {
	ready atomic.Bool

	mu     sync.Mutex
	checks map[Probe][]*check
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{checks: make(map[Probe][]*check)}
}

// Register adds a check to probe. Checks start healthy and must be registered
// before Start.
func (h *Health) Register(probe Probe, name string, fn CheckFunc, opts ...CheckOption) {
	c := &check{
		name:             name,
		fn:               fn,
		timeout:          2 * time.Second,
		failureThreshold: 3,
		successThreshold: 1,
		healthy:          true,
	}
	for _, opt := range opts {
		opt(c)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[probe] = append(h.checks[probe], c)
}

// Start runs every check immediately and then every interval until Stop or
// ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	var all []*check
	for _, cs := range h.checks {
		all = append(all, cs...)
	}
	h.mu.Unlock()

	for _, c := range all {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop halts background checks. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady opens or closes the readiness gate.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(probe Probe) map[string]string {
	h.mu.Lock()
	checks := slices.Clone(h.checks[probe])
	h.mu.Unlock()

	out := make(map[string]string)
	for _, c := range checks {
		if reason := c.failure(); reason != "" {
			out[c.name] = reason
		}
	}
	return out
}

// Handler serves probe results: 200 {"status":"ok"} or 503 with the failing
// checks.
func (h *Health) Handler(probe Probe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		failures := h.failures(probe)
		if probe == Readiness && !h.ready.Load() {
			failures["_readiness"] = "service is not ready"
		}
		writeStatus(w, failures)
	})
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	status := http.StatusOK
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
