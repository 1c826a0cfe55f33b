// Package limits implements the coordinator's ResourceGuard: a rate limiter
// pacing the outbound RPC sender plus a host CPU safety valve, reusing the
// teacher's internal/shared/limits.ResourceGuard idiom (static config,
// rate.Limiter, a polled CPU percentage) repointed at the lock domain —
// here it paces REVOKE/RETRY dispatch instead of websocket broadcast.
package limits

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"
)

// Config configures a ResourceGuard.
type Config struct {
	SenderRatePerSec  float64       // outbound RPCs/sec the sender may sustain
	SenderBurst       int           // burst capacity on top of the steady rate
	CPUPauseThreshold float64       // pause sending at or above this host CPU percent
	PollInterval      time.Duration // how often to sample CPU; default 2s
}

// ResourceGuard paces the coordinator's sender thread. Unlike the teacher's
// version it has no connection-admission role (the core has no notion of
// accepting/rejecting client connections) — only the two concerns that
// carry over: outbound rate limiting and a CPU emergency brake.
type ResourceGuard struct {
	logger zerolog.Logger

	senderLimiter     *rate.Limiter
	cpuPauseThreshold float64
	currentCPU        atomic.Value // float64
}

// New constructs a ResourceGuard and starts its CPU poller against ctx.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) *ResourceGuard {
	burst := cfg.SenderBurst
	if burst < 1 {
		burst = 1
	}
	rg := &ResourceGuard{
		logger:            logger.With().Str("component", "resource_guard").Logger(),
		senderLimiter:     rate.NewLimiter(rate.Limit(cfg.SenderRatePerSec), burst),
		cpuPauseThreshold: cfg.CPUPauseThreshold,
	}
	rg.currentCPU.Store(0.0)

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	go rg.pollCPU(ctx, interval)

	return rg
}

func (rg *ResourceGuard) pollCPU(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(percents) == 0 {
				rg.logger.Debug().Err(err).Msg("cpu sample failed")
				continue
			}
			rg.currentCPU.Store(percents[0])
		}
	}
}

// CPUPercent returns the most recently sampled host CPU percentage.
func (rg *ResourceGuard) CPUPercent() float64 {
	return rg.currentCPU.Load().(float64)
}

// ShouldPause reports whether the sender should back off sending outbound
// RPCs because host CPU is over threshold.
func (rg *ResourceGuard) ShouldPause() bool {
	return rg.CPUPercent() >= rg.cpuPauseThreshold
}

// Wait blocks until the sender is permitted to dispatch its next outbound
// RPC, honoring both the steady-state rate limit and ctx cancellation.
func (rg *ResourceGuard) Wait(ctx context.Context) error {
	return rg.senderLimiter.Wait(ctx)
}
