package stats

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/communicator"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/executor"
)

const probeTimeout = 10 * time.Second

// Collector produces the host and cluster resource figures carried by
// registration and heartbeats. gopsutil does the host probing; when it
// fails the classic coreutils fallbacks take over. Cluster figures come
// from kubectl.
type Collector struct {
	runner executor.Runner
	logger *zap.Logger
}

func NewCollector(runner executor.Runner, logger *zap.Logger) *Collector {
	return &Collector{runner: runner, logger: logger}
}

// HostResources reports the static node shape for registration.
func (c *Collector) HostResources(ctx context.Context) communicator.HostResources {
	return communicator.HostResources{
		CPUCores: c.cpuCores(ctx),
		RAMMb:    c.ramMb(ctx),
		DiskGb:   c.diskGb(ctx),
	}
}

// Snapshot reports live usage plus cluster object counts for a heartbeat.
func (c *Collector) Snapshot(ctx context.Context) communicator.ResourceSnapshot {
	snapshot := communicator.ResourceSnapshot{
		CPUCores: c.cpuCores(ctx),
		RAMMb:    c.ramMb(ctx),
		DiskGb:   c.diskGb(ctx),
	}

	if percents, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(percents) > 0 {
		snapshot.CPUUsage = percents[0]
	} else if err != nil {
		c.logger.Debug("cpu usage probe failed", zap.Error(err))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snapshot.RAMUsage = vm.UsedPercent
	}
	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		snapshot.DiskUsage = usage.UsedPercent
	} else {
		snapshot.DiskUsage = c.diskUsageFallback(ctx)
	}

	snapshot.PodCount = c.countLines(ctx, "kubectl get pods -A --no-headers 2>/dev/null")
	snapshot.DatabaseSts = c.countLines(ctx, "kubectl get statefulsets -A --no-headers 2>/dev/null")

	return snapshot
}

// RunningPods lists namespace/name pairs of running pods for the
// heartbeat payload.
func (c *Collector) RunningPods(ctx context.Context) []string {
	command := `kubectl get pods -A --field-selector=status.phase=Running -o jsonpath='{range .items[*]}{.metadata.namespace}/{.metadata.name}{"\n"}{end}'`
	result := c.runner.Run(ctx, command, probeTimeout)
	if !result.Success {
		c.logger.Debug("running pod probe failed", zap.String("error", result.Error))
		return nil
	}

	var pods []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			pods = append(pods, trimmed)
		}
	}
	return pods
}

func (c *Collector) cpuCores(ctx context.Context) int {
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil && cores > 0 {
		return cores
	}
	result := c.runner.Run(ctx, "nproc", probeTimeout)
	if result.Success {
		if cores, err := strconv.Atoi(strings.TrimSpace(result.Stdout)); err == nil {
			return cores
		}
	}
	return 1
}

func (c *Collector) ramMb(ctx context.Context) int {
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		return int(vm.Total / (1024 * 1024))
	}
	result := c.runner.Run(ctx, "free -m", probeTimeout)
	if result.Success {
		if total, ok := parseFreeTotalMb(result.Stdout); ok {
			return total
		}
	}
	c.logger.Debug("ram probe failed, reporting zero")
	return 0
}

func (c *Collector) diskGb(ctx context.Context) int {
	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		return int(usage.Total / (1024 * 1024 * 1024))
	}
	result := c.runner.Run(ctx, "df -BG /", probeTimeout)
	if result.Success {
		if size, _, ok := parseDfRoot(result.Stdout); ok {
			return size
		}
	}
	c.logger.Debug("disk probe failed, reporting zero")
	return 0
}

func (c *Collector) diskUsageFallback(ctx context.Context) float64 {
	result := c.runner.Run(ctx, "df -BG /", probeTimeout)
	if result.Success {
		if _, usage, ok := parseDfRoot(result.Stdout); ok {
			return usage
		}
	}
	return 0
}

func (c *Collector) countLines(ctx context.Context, command string) int {
	result := c.runner.Run(ctx, command+" | wc -l", probeTimeout)
	if !result.Success {
		return 0
	}
	count, err := strconv.Atoi(strings.TrimSpace(result.Stdout))
	if err != nil {
		return 0
	}
	return count
}

// parseFreeTotalMb reads the total column of the Mem row of `free -m`.
func parseFreeTotalMb(output string) (int, bool) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "Mem:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		total, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, false
		}
		return total, true
	}
	return 0, false
}

// parseDfRoot reads size in GiB and used percent from `df -BG /`.
func parseDfRoot(output string) (int, float64, bool) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return 0, 0, false
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return 0, 0, false
	}
	size, err := strconv.Atoi(strings.TrimSuffix(fields[1], "G"))
	if err != nil {
		return 0, 0, false
	}
	usage, err := strconv.ParseFloat(strings.TrimSuffix(fields[4], "%"), 64)
	if err != nil {
		return size, 0, true
	}
	return size, usage, true
}
