package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/communicator"
)

type fakeSource struct {
	mu       sync.Mutex
	commands []communicator.Command
	err      error
	fetches  int
}

func (f *fakeSource) FetchCommands(context.Context) ([]communicator.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.commands, f.err
}

type blockingProcessor struct {
	mu      sync.Mutex
	started []string
	release chan struct{}
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{release: make(chan struct{})}
}

func (p *blockingProcessor) Process(_ context.Context, cmd communicator.Command) {
	p.mu.Lock()
	p.started = append(p.started, cmd.ID)
	p.mu.Unlock()
	<-p.release
}

func (p *blockingProcessor) startedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.started...)
}

func pendingCommands(ids ...string) []communicator.Command {
	commands := make([]communicator.Command, 0, len(ids))
	for _, id := range ids {
		commands = append(commands, communicator.Command{
			ID:     id,
			Kind:   "STOP",
			Status: communicator.StatusPending,
		})
	}
	return commands
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestTickAdmitsUpToCeiling(t *testing.T) {
	source := &fakeSource{commands: pendingCommands("c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9", "c10")}
	processor := newBlockingProcessor()
	loop := NewControlLoop(source, processor, 3, time.Hour, NewErrorTracker(), zap.NewNop())

	loop.tick(context.Background())

	waitFor(t, func() bool { return len(processor.startedIDs()) == 3 })
	assert.Equal(t, 3, loop.InFlight())
	assert.True(t, loop.AtCapacity())
	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, processor.startedIDs())

	// A second tick at capacity admits nothing.
	loop.tick(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, processor.startedIDs(), 3)

	close(processor.release)
	waitFor(t, func() bool { return loop.InFlight() == 0 })

	// With slots free again the next tick admits up to the ceiling once more.
	loop.tick(context.Background())
	waitFor(t, func() bool { return len(processor.startedIDs()) == 6 })
}

func TestTickSkipsDuplicatesAndNonPending(t *testing.T) {
	source := &fakeSource{commands: []communicator.Command{
		{ID: "c1", Status: communicator.StatusPending},
		{ID: "c1", Status: communicator.StatusPending},
		{ID: "c2", Status: communicator.StatusRunning},
		{ID: "c3", Status: communicator.StatusCompleted},
	}}
	processor := newBlockingProcessor()
	loop := NewControlLoop(source, processor, 5, time.Hour, NewErrorTracker(), zap.NewNop())

	loop.tick(context.Background())

	waitFor(t, func() bool { return len(processor.startedIDs()) == 1 })
	assert.Equal(t, []string{"c1"}, processor.startedIDs())
	assert.Equal(t, 1, loop.InFlight())

	close(processor.release)
	waitFor(t, func() bool { return loop.InFlight() == 0 })
}

func TestTickPollFailureSetsTracker(t *testing.T) {
	source := &fakeSource{err: assert.AnError}
	errs := NewErrorTracker()
	loop := NewControlLoop(source, newBlockingProcessor(), 3, time.Hour, errs, zap.NewNop())

	loop.tick(context.Background())
	assert.Contains(t, errs.get(), "command poll failed")

	// A clean cycle clears the condition.
	source.mu.Lock()
	source.err = nil
	source.mu.Unlock()
	loop.tick(context.Background())
	assert.Empty(t, errs.get())
}

func TestRunDrainsBeforeReturning(t *testing.T) {
	source := &fakeSource{commands: pendingCommands("c1")}
	processor := newBlockingProcessor()
	loop := NewControlLoop(source, processor, 3, 10*time.Millisecond, NewErrorTracker(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return len(processor.startedIDs()) == 1 })
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a command was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(processor.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the in-flight command finished")
	}
	assert.Equal(t, 0, loop.InFlight())
}

func TestRunPollsImmediately(t *testing.T) {
	source := &fakeSource{}
	loop := NewControlLoop(source, newBlockingProcessor(), 3, time.Hour, NewErrorTracker(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	waitFor(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.fetches >= 1
	})
	cancel()
}

func TestLiveSet(t *testing.T) {
	set := newLiveSet(2)

	added, full := set.tryAdd("a")
	assert.True(t, added)
	assert.False(t, full)

	added, full = set.tryAdd("a")
	assert.False(t, added, "duplicate id must not be admitted")
	assert.False(t, full, "duplicate is not a capacity signal")

	set.tryAdd("b")
	added, full = set.tryAdd("c")
	assert.False(t, added)
	assert.True(t, full)

	require.True(t, set.atCapacity())
	set.remove("a")
	assert.False(t, set.atCapacity())
	assert.Equal(t, 1, set.size())
}
