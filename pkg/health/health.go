// Package health implements the liveness and readiness probes the promo
// server exposes on /livez and /readyz.
//
// Every registered probe runs on its own ticker goroutine. Probes flip state
// on consecutive results rather than single samples, the way Kubernetes probe
// thresholds work, so one slow database ping never drops the pod out of the
// load balancer.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// probe is one registered check plus its runtime state.
//
// execute() runs on a single goroutine, so the consecutive counters need no
// synchronization. healthy and lastErr are read by HTTP handlers from
// arbitrary goroutines and use atomics.
type probe struct {
	name          string
	timeout       time.Duration
	check         CheckFunc
	failsToTrip   int
	passesToReset int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	consecutiveFails  int
	consecutivePasses int
}

func (p *probe) isHealthy() bool {
	return p.healthy.Load()
}

func (p *probe) lastError() error {
	if e := p.lastErr.Load(); e != nil {
		return *e
	}
	return nil
}

// execute runs the check once and applies the thresholds. Single-goroutine
// only.
func (p *probe) execute(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(checkCtx)
	p.lastErr.Store(&err)

	if err != nil {
		p.consecutivePasses = 0
		p.consecutiveFails++
		if p.consecutiveFails >= p.failsToTrip {
			p.healthy.Store(false)
		}
		return
	}

	p.consecutiveFails = 0
	p.consecutivePasses++
	if p.consecutivePasses >= p.passesToReset {
		p.healthy.Store(true)
	}
}

// Health owns the probe set and the manual ready flag.
type Health struct {
	ready atomic.Bool

	// mu guards the probe slices and cancel. Handlers copy the slices under
	// RLock and release before touching probe state.
	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Health service with no probes, in the not-ready state. Call
// SetReady(true) once startup wiring finishes.
func New() *Health {
	return &Health{}
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	p := &probe{
		name:          name,
		timeout:       timeout,
		check:         check,
		failsToTrip:   3,
		passesToReset: 1,
	}
	// Healthy until proven otherwise, so a slow first probe does not fail
	// startup.
	p.healthy.Store(true)
	return p
}

// AddLivenessCheck registers a probe for /livez: is the process itself
// functioning (goroutine leaks, GC stalls).
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a probe for /readyz: can the service do useful
// work right now (database reachable, cache warm).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
}

// Start launches one goroutine per registered probe, each ticking at
// interval. Register all probes before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, 0, len(h.liveness)+len(h.readiness))
	probes = append(probes, h.liveness...)
	probes = append(probes, h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go tick(ctx, p, interval)
	}
}

func tick(ctx context.Context, p *probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.execute(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.execute(ctx)
		}
	}
}

// SetReady flips the manual readiness gate. Startup sets it true once wiring
// completes; graceful shutdown sets it false to drain traffic before the
// listener closes.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// is currently passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}

	h.mu.RLock()
	probes := h.readiness
	h.mu.RUnlock()

	for _, p := range probes {
		if !p.isHealthy() {
			return false
		}
	}
	return true
}

// Stop cancels all probe goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

type probeReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while every liveness probe passes, 503
// with the failing probe names and errors otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	probes := make([]*probe, len(h.liveness))
	copy(probes, h.liveness)
	h.mu.RUnlock()

	writeReport(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 only when the manual gate is open AND
// every readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	ready := h.ready.Load()

	h.mu.RLock()
	probes := make([]*probe, len(h.readiness))
	copy(probes, h.readiness)
	h.mu.RUnlock()

	fails := failures(probes)
	if !ready {
		fails["_readiness"] = "service is not ready"
	}
	writeReport(w, fails)
}

// failures maps probe name to error text for every unhealthy probe, using
// the stored last error instead of re-running the check.
func failures(probes []*probe) map[string]string {
	fails := make(map[string]string)
	for _, p := range probes {
		if p.isHealthy() {
			continue
		}
		if err := p.lastError(); err != nil {
			fails[p.name] = err.Error()
		} else {
			fails[p.name] = "check is unhealthy"
		}
	}
	return fails
}

func writeReport(w http.ResponseWriter, fails map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	report := probeReport{Status: "ok"}
	status := http.StatusOK
	if len(fails) > 0 {
		report.Status = "unhealthy"
		report.Checks = fails
		status = http.StatusServiceUnavailable
	}

	w.WriteHeader(status)
	// Status code is already committed; an encode failure here means the
	// client went away.
	_ = json.NewEncoder(w).Encode(report)
}
