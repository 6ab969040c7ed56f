package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/nulpointcorp/sentinel-gateway/internal/workspace"
)

const healthProbeInterval = 30 * time.Second
const healthProbeTimeout = 5 * time.Second

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "degraded" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthChecker runs background probes against the gateway's storage
// dependencies and exposes the latest results. Upstream providers are not
// probed here: enforcers are built per request with tenant credentials, so
// there is no ambient credential to probe with.
type HealthChecker struct {
	storeReady     func(context.Context) bool
	analyticsReady func(context.Context) bool
	cb             *CircuitBreaker
	baseCtx        context.Context

	storeStatus     componentStatus
	analyticsStatus componentStatus

	startTime time.Time
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and immediately starts background
// probes. Probe functions receive a deadline-bounded context; nil means
// "not configured" and reports ok.
func NewHealthChecker(
	ctx context.Context,
	storeReady func(context.Context) bool,
	analyticsReady func(context.Context) bool,
	cb *CircuitBreaker,
) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		storeReady:     storeReady,
		analyticsReady: analyticsReady,
		cb:             cb,
		startTime:      time.Now(),
		done:           make(chan struct{}),
		baseCtx:        ctx,
	}

	// Run first probe synchronously so health is not "unknown" immediately.
	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot returns the current health state for all components.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Store         string            `json:"store"`
	Analytics     string            `json:"analytics"`
	Breakers      map[string]string `json:"breakers"`
}

// Snapshot builds a snapshot from the latest probe results.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	overall := "ok"

	store := hc.storeStatus.get()
	analytics := hc.analyticsStatus.get()
	if store == "down" || analytics == "down" {
		overall = "degraded"
	}

	breakers := make(map[string]string, len(workspace.AllProviders))
	for _, name := range workspace.AllProviders {
		label := "closed"
		if hc.cb != nil {
			label = hc.cb.StateLabel(name)
		}
		breakers[name] = label
		if label == "open" {
			overall = "degraded"
		}
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Store:         store,
		Analytics:     analytics,
		Breakers:      breakers,
	}
}

// ReadinessOK returns true when durable storage is reachable
// (used by GET /readiness for Kubernetes probes).
func (hc *HealthChecker) ReadinessOK() bool {
	return hc.storeStatus.get() == "ok"
}

// Close stops the background probe goroutine.
func (hc *HealthChecker) Close() {
	close(hc.done)
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	if hc.storeReady == nil || hc.storeReady(ctx) {
		hc.storeStatus.set("ok")
	} else {
		hc.storeStatus.set("down")
	}

	if hc.analyticsReady == nil || hc.analyticsReady(ctx) {
		hc.analyticsStatus.set("ok")
	} else {
		hc.analyticsStatus.set("down")
	}
}
