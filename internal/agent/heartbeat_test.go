package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/communicator"
)

func TestErrorTracker(t *testing.T) {
	tracker := NewErrorTracker()
	assert.Empty(t, tracker.get())

	tracker.set("disk full")
	assert.Equal(t, "disk full", tracker.get())

	tracker.clear()
	assert.Empty(t, tracker.get())
}

func TestStatusDerivation(t *testing.T) {
	errs := NewErrorTracker()
	loop := NewControlLoop(&fakeSource{}, newBlockingProcessor(), 1, time.Hour, errs, zap.NewNop())
	heartbeat := NewHeartbeatLoop(nil, nil, loop, errs, nil, time.Hour, zap.NewNop())

	assert.Equal(t, communicator.AgentOnline, heartbeat.status())

	loop.live.tryAdd("c1")
	assert.Equal(t, communicator.AgentBusy, heartbeat.status())

	// An error outranks a full live-set.
	errs.set("command poll failed: connection refused")
	assert.Equal(t, communicator.AgentError, heartbeat.status())

	errs.clear()
	loop.live.remove("c1")
	assert.Equal(t, communicator.AgentOnline, heartbeat.status())
}
