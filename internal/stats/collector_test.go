package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/executor"
)

type stubRunner struct {
	results map[string]executor.Result
}

func (s *stubRunner) Run(_ context.Context, command string, _ time.Duration) executor.Result {
	if result, ok := s.results[command]; ok {
		return result
	}
	return executor.Result{Error: "command not stubbed"}
}

func (s *stubRunner) RunWithInput(ctx context.Context, command, _ string, timeout time.Duration) executor.Result {
	return s.Run(ctx, command, timeout)
}

func (s *stubRunner) Spawn(context.Context, string, []string, func(string)) (int, error) {
	return 0, nil
}

func TestParseFreeTotalMb(t *testing.T) {
	output := `              total        used        free      shared  buff/cache   available
Mem:           7821        2011         310          52        5499        5441
Swap:          2047           0        2047`

	total, ok := parseFreeTotalMb(output)
	assert.True(t, ok)
	assert.Equal(t, 7821, total)

	_, ok = parseFreeTotalMb("no mem row here")
	assert.False(t, ok)

	_, ok = parseFreeTotalMb("Mem:")
	assert.False(t, ok)
}

func TestParseDfRoot(t *testing.T) {
	output := `Filesystem     1G-blocks  Used Available Use% Mounted on
/dev/sda1            98G   41G       52G  45% /`

	size, usage, ok := parseDfRoot(output)
	assert.True(t, ok)
	assert.Equal(t, 98, size)
	assert.Equal(t, 45.0, usage)

	_, _, ok = parseDfRoot("Filesystem 1G-blocks")
	assert.False(t, ok)

	_, _, ok = parseDfRoot("")
	assert.False(t, ok)
}

func TestRunningPods(t *testing.T) {
	runner := &stubRunner{results: map[string]executor.Result{
		`kubectl get pods -A --field-selector=status.phase=Running -o jsonpath='{range .items[*]}{.metadata.namespace}/{.metadata.name}{"\n"}{end}'`: {
			Success: true,
			Stdout:  "user-7/shop-7f9c\nuser-7/shop-db-0\n\n",
		},
	}}
	collector := NewCollector(runner, zap.NewNop())

	pods := collector.RunningPods(context.Background())
	assert.Equal(t, []string{"user-7/shop-7f9c", "user-7/shop-db-0"}, pods)
}

func TestRunningPodsProbeFailure(t *testing.T) {
	collector := NewCollector(&stubRunner{}, zap.NewNop())
	assert.Nil(t, collector.RunningPods(context.Background()))
}

func TestCountLines(t *testing.T) {
	runner := &stubRunner{results: map[string]executor.Result{
		"kubectl get pods -A --no-headers 2>/dev/null | wc -l": {Success: true, Stdout: " 12 \n"},
	}}
	collector := NewCollector(runner, zap.NewNop())

	assert.Equal(t, 12, collector.countLines(context.Background(), "kubectl get pods -A --no-headers 2>/dev/null"))
	assert.Equal(t, 0, collector.countLines(context.Background(), "kubectl get statefulsets -A --no-headers 2>/dev/null"))
}
