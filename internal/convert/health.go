package convert

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultHealthTTL   = time.Minute
	healthProbeTimeout = 5 * time.Second
)

// HealthProber is the subset of Service needed to probe reachability.
type HealthProber interface {
	Health(ctx context.Context) (*HealthStatus, error)
}

// CachedHealth caches service health probes with a TTL so status polling
// does not hit the service on every request.
//
// An unreachable service is reported as a status with Reachable false, not
// as an error. Probe errors only come from building the request, and in that
// case the last cached status is served.
type CachedHealth struct {
	prober HealthProber
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *HealthStatus
}

func NewCachedHealth(prober HealthProber, logger *slog.Logger) *CachedHealth {
	return &CachedHealth{
		prober: prober,
		ttl:    defaultHealthTTL,
		logger: logger,
	}
}

// Get returns the cached status if fresh, otherwise re-probes.
func (h *CachedHealth) Get(ctx context.Context) (*HealthStatus, error) {
	h.mu.RLock()
	if h.cached != nil && time.Since(h.cached.CheckedAt) < h.ttl {
		status := h.cached
		h.mu.RUnlock()
		return status, nil
	}
	h.mu.RUnlock()

	return h.Refresh(ctx)
}

// Peek returns the last cached status, however old, without probing.
func (h *CachedHealth) Peek() *HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cached
}

// Refresh forces a new probe regardless of cache freshness. The probe runs
// without holding the cache lock; when probes overlap the newest one wins.
func (h *CachedHealth) Refresh(ctx context.Context) (*HealthStatus, error) {
	status, err := h.prober.Health(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		h.logger.Warn("health probe failed", "error", err)
		if h.cached != nil {
			return h.cached, nil
		}
		return nil, err
	}

	if !status.Reachable {
		h.logger.Warn("conversion service unreachable", "error", status.Error)
	}
	if h.cached == nil || !status.CheckedAt.Before(h.cached.CheckedAt) {
		h.cached = status
	}
	return status, nil
}

// Run re-probes the service every TTL until ctx is cancelled.
func (h *CachedHealth) Run(ctx context.Context) {
	ticker := time.NewTicker(h.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
			h.Refresh(probeCtx)
			cancel()
		}
	}
}
