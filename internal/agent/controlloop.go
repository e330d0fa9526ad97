package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/communicator"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/metrics"
)

// CommandSource is the control-plane slice the poll loop consumes.
type CommandSource interface {
	FetchCommands(ctx context.Context) ([]communicator.Command, error)
}

// CommandProcessor executes one command to its terminal state.
type CommandProcessor interface {
	Process(ctx context.Context, cmd communicator.Command)
}

// ControlLoop polls the control plane and admits pending commands up to
// the configured ceiling. Admitted commands run on their own goroutine and
// are never interrupted mid-execution; shutdown stops polling and drains.
type ControlLoop struct {
	source    CommandSource
	processor CommandProcessor
	live      *liveSet
	interval  time.Duration
	logger    *zap.Logger
	errs      *errorTracker

	wg sync.WaitGroup
}

func NewControlLoop(source CommandSource, processor CommandProcessor, maxConcurrent int, interval time.Duration, errs *errorTracker, logger *zap.Logger) *ControlLoop {
	return &ControlLoop{
		source:    source,
		processor: processor,
		live:      newLiveSet(maxConcurrent),
		interval:  interval,
		logger:    logger,
		errs:      errs,
	}
}

// InFlight reports the current live-set size.
func (c *ControlLoop) InFlight() int {
	return c.live.size()
}

// AtCapacity reports whether the live-set is at the ceiling.
func (c *ControlLoop) AtCapacity() bool {
	return c.live.atCapacity()
}

// Run polls until ctx is cancelled, then waits for in-flight handlers to
// finish. The first tick fires immediately.
func (c *ControlLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("poll loop stopping, draining in-flight commands",
				zap.Int("in_flight", c.live.size()),
			)
			c.wg.Wait()
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *ControlLoop) tick(ctx context.Context) {
	commands, err := c.source.FetchCommands(ctx)
	if err != nil {
		c.logger.Warn("command poll failed", zap.Error(err))
		c.errs.set("command poll failed: " + err.Error())
		return
	}
	c.errs.clear()

	for _, cmd := range commands {
		if cmd.Status != communicator.StatusPending {
			continue
		}
		added, full := c.live.tryAdd(cmd.ID)
		if full {
			// Ceiling reached; the next tick re-examines the backlog.
			break
		}
		if !added {
			continue
		}

		metrics.InflightCommands.Set(float64(c.live.size()))
		c.wg.Add(1)

		// Handlers outlive a shutdown signal; deadlines inside the
		// pipeline bound their runtime.
		handlerCtx := context.WithoutCancel(ctx)
		go func(cmd communicator.Command) {
			defer c.wg.Done()
			defer func() {
				c.live.remove(cmd.ID)
				metrics.InflightCommands.Set(float64(c.live.size()))
			}()
			c.processor.Process(handlerCtx, cmd)
		}(cmd)
	}
}
