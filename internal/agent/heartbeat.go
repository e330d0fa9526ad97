package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/communicator"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/stats"
)

// errorTracker keeps the last unrecoverable condition for status
// derivation. Cleared when a cycle succeeds again.
type errorTracker struct {
	mu      sync.Mutex
	message string
}

func NewErrorTracker() *errorTracker {
	return &errorTracker{}
}

func (t *errorTracker) set(message string) {
	t.mu.Lock()
	t.message = message
	t.mu.Unlock()
}

func (t *errorTracker) clear() {
	t.set("")
}

func (t *errorTracker) get() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

// HeartbeatSink is the control-plane slice the heartbeat loop uses.
type HeartbeatSink interface {
	SendHeartbeat(ctx context.Context, snapshot communicator.HeartbeatSnapshot) error
	Identity() *communicator.AgentIdentity
}

// RegisterFunc retries registration when the agent is still degraded.
type RegisterFunc func(ctx context.Context) error

// HeartbeatLoop reports liveness, live resources, and running pods on a
// fixed period. Delivery failures are swallowed; a final beat goes out on
// shutdown when the control plane is reachable.
type HeartbeatLoop struct {
	sink      HeartbeatSink
	collector *stats.Collector
	loop      *ControlLoop
	errs      *errorTracker
	register  RegisterFunc
	interval  time.Duration
	logger    *zap.Logger
}

func NewHeartbeatLoop(sink HeartbeatSink, collector *stats.Collector, loop *ControlLoop, errs *errorTracker, register RegisterFunc, interval time.Duration, logger *zap.Logger) *HeartbeatLoop {
	return &HeartbeatLoop{
		sink:      sink,
		collector: collector,
		loop:      loop,
		errs:      errs,
		register:  register,
		interval:  interval,
		logger:    logger,
	}
}

// Run beats until ctx is cancelled, then sends one final beat.
func (h *HeartbeatLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			h.beat(final)
			cancel()
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *HeartbeatLoop) beat(ctx context.Context) {
	if h.sink.Identity() == nil {
		if err := h.register(ctx); err != nil {
			h.logger.Warn("re-registration failed, skipping heartbeat", zap.Error(err))
			return
		}
	}

	snapshot := communicator.HeartbeatSnapshot{
		Status:      h.status(),
		Resources:   h.collector.Snapshot(ctx),
		RunningPods: h.collector.RunningPods(ctx),
	}
	if message := h.errs.get(); message != "" {
		snapshot.ErrorMessage = message
	}

	if err := h.sink.SendHeartbeat(ctx, snapshot); err != nil {
		h.logger.Warn("heartbeat delivery failed", zap.Error(err))
		return
	}
	h.logger.Debug("heartbeat sent",
		zap.String("status", snapshot.Status),
		zap.Int("in_flight", h.loop.InFlight()),
	)
}

// status derives the agent state: a surfaced error wins, a full live-set
// means busy, anything else is online.
func (h *HeartbeatLoop) status() string {
	if h.errs.get() != "" {
		return communicator.AgentError
	}
	if h.loop.AtCapacity() {
		return communicator.AgentBusy
	}
	return communicator.AgentOnline
}
