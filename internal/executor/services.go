package executor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const serviceProbeTimeout = 10 * time.Second

// ServiceProbe reports the state of the host systemd units the agent
// depends on. Read-only; the agent never starts or stops host services.
type ServiceProbe struct {
	runner Runner
}

func NewServiceProbe(runner Runner) *ServiceProbe {
	return &ServiceProbe{runner: runner}
}

// IsActive reports whether a systemd unit is currently active. Any probe
// failure reads as inactive.
func (p *ServiceProbe) IsActive(ctx context.Context, unit string) bool {
	if err := validateUnit(unit); err != nil {
		return false
	}
	result := p.runner.Run(ctx, "systemctl is-active --quiet "+Quote(unit), serviceProbeTimeout)
	return result.Success
}

// Statuses probes each unit and returns unit -> active.
func (p *ServiceProbe) Statuses(ctx context.Context, units ...string) map[string]bool {
	statuses := make(map[string]bool, len(units))
	for _, unit := range units {
		statuses[unit] = p.IsActive(ctx, unit)
	}
	return statuses
}

func validateUnit(unit string) error {
	if unit == "" {
		return fmt.Errorf("unit name cannot be empty")
	}
	if strings.ContainsAny(unit, ";&|`$(){}[]<>\\\"' /") {
		return fmt.Errorf("invalid characters in unit name %q", unit)
	}
	return nil
}
