package kube

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/executor"
)

type scriptedRunner struct {
	commands []string
	inputs   []string
	results  map[string]executor.Result
	runFunc  func(command string) executor.Result
}

func (s *scriptedRunner) Run(_ context.Context, command string, _ time.Duration) executor.Result {
	s.commands = append(s.commands, command)
	if s.runFunc != nil {
		return s.runFunc(command)
	}
	if result, ok := s.results[command]; ok {
		return result
	}
	return executor.Result{Success: true}
}

func (s *scriptedRunner) RunWithInput(ctx context.Context, command, input string, timeout time.Duration) executor.Result {
	s.inputs = append(s.inputs, input)
	return s.Run(ctx, command, timeout)
}

func (s *scriptedRunner) Spawn(_ context.Context, name string, args []string, onLine func(string)) (int, error) {
	s.commands = append(s.commands, name+" "+strings.Join(args, " "))
	onLine("line one")
	return 0, nil
}

func newTestDriver(runner *scriptedRunner) *Driver {
	return NewDriver(runner, zap.NewNop())
}

func TestEnsureNamespaceQuoting(t *testing.T) {
	runner := &scriptedRunner{}
	driver := newTestDriver(runner)

	result := driver.EnsureNamespace(context.Background(), "user-7", "reg-token")
	assert.True(t, result.Success)
	require.Len(t, runner.commands, 1)
	assert.Equal(t, "deploypilot-create-namespace 'user-7' 'reg-token'", runner.commands[0])

	runner.commands = nil
	driver.EnsureNamespace(context.Background(), "user-7", "")
	assert.Equal(t, "deploypilot-create-namespace 'user-7'", runner.commands[0])
}

func TestDriverRejectsBadNames(t *testing.T) {
	runner := &scriptedRunner{}
	driver := newTestDriver(runner)

	result := driver.DeployApp(context.Background(), "user-7", "bad;name", "img", 3000, "")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid name")

	result = driver.EnsureNamespace(context.Background(), "Bad Space", "")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid namespace")

	assert.Empty(t, runner.commands, "validation failures must not reach the shell")
}

func TestDeployAppOptionalDomain(t *testing.T) {
	runner := &scriptedRunner{}
	driver := newTestDriver(runner)

	driver.DeployApp(context.Background(), "user-7", "shop", "docker.io/library/shop:d1", 3000, "shop.example.com")
	require.Len(t, runner.commands, 1)
	assert.Equal(t,
		"deploypilot-deploy-app 'user-7' 'shop' 'docker.io/library/shop:d1' 3000 'shop.example.com'",
		runner.commands[0])

	runner.commands = nil
	driver.DeployApp(context.Background(), "user-7", "shop", "img", 3000, "")
	assert.NotContains(t, runner.commands[0], "''")
}

func TestSetEnvVarsEmptyIsNoOp(t *testing.T) {
	runner := &scriptedRunner{}
	driver := newTestDriver(runner)

	result := driver.SetEnvVars(context.Background(), "user-7", "shop", nil)
	assert.True(t, result.Success)
	assert.Empty(t, runner.commands)
}

func TestSetEnvVarsSortedAndQuoted(t *testing.T) {
	runner := &scriptedRunner{}
	driver := newTestDriver(runner)

	driver.SetEnvVars(context.Background(), "user-7", "shop", map[string]string{
		"ZETA":  "z",
		"ALPHA": "it's",
	})
	require.Len(t, runner.commands, 1)
	command := runner.commands[0]
	assert.Contains(t, command, "kubectl set env deployment/'shop' -n 'user-7'")

	alphaIdx := strings.Index(command, `'ALPHA=it'\''s'`)
	zetaIdx := strings.Index(command, "'ZETA=z'")
	assert.Greater(t, alphaIdx, -1)
	assert.Greater(t, zetaIdx, alphaIdx)
}

func TestDeleteDeploymentComposite(t *testing.T) {
	runner := &scriptedRunner{}
	driver := newTestDriver(runner)

	result := driver.DeleteDeployment(context.Background(), "user-7", "shop")
	assert.True(t, result.Success)
	require.Len(t, runner.commands, 3)
	for i, kind := range []string{"deployment", "service", "ingress"} {
		assert.Contains(t, runner.commands[i], "kubectl delete "+kind+" 'shop'")
		assert.Contains(t, runner.commands[i], "--ignore-not-found")
	}
}

func TestDeleteDeploymentCollectsFailures(t *testing.T) {
	runner := &scriptedRunner{}
	runner.runFunc = func(command string) executor.Result {
		if strings.Contains(command, "delete service") {
			return executor.Result{Error: "connection refused"}
		}
		return executor.Result{Success: true}
	}
	driver := newTestDriver(runner)

	result := driver.DeleteDeployment(context.Background(), "user-7", "shop")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "service: connection refused")
	// The remaining deletes still ran.
	assert.Len(t, runner.commands, 3)
}

func TestApplyManifestFeedsStdin(t *testing.T) {
	runner := &scriptedRunner{}
	driver := newTestDriver(runner)

	driver.ApplyManifest(context.Background(), "kind: Secret\n")
	require.Len(t, runner.commands, 1)
	assert.Equal(t, "kubectl apply -f -", runner.commands[0])
	require.Len(t, runner.inputs, 1)
	assert.Equal(t, "kind: Secret\n", runner.inputs[0])
}

func TestWaitForStatefulSetReady(t *testing.T) {
	attempts := 0
	runner := &scriptedRunner{}
	runner.runFunc = func(string) executor.Result {
		attempts++
		if attempts < 2 {
			return executor.Result{Success: true, Stdout: ""}
		}
		return executor.Result{Success: true, Stdout: "1\n"}
	}
	driver := newTestDriver(runner)

	err := driver.WaitForStatefulSetReady(context.Background(), "user-7", "shop-db")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWaitForStatefulSetReadyCancelled(t *testing.T) {
	runner := &scriptedRunner{}
	runner.runFunc = func(string) executor.Result {
		return executor.Result{Success: true, Stdout: "0"}
	}
	driver := newTestDriver(runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := driver.WaitForStatefulSetReady(ctx, "user-7", "shop-db")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFirstPodName(t *testing.T) {
	runner := &scriptedRunner{}
	runner.runFunc = func(string) executor.Result {
		return executor.Result{Success: true, Stdout: "shop-db-0\n"}
	}
	driver := newTestDriver(runner)

	pod, err := driver.FirstPodName(context.Background(), "user-7", "shop-db")
	require.NoError(t, err)
	assert.Equal(t, "shop-db-0", pod)
	assert.Contains(t, runner.commands[0], "-l app='shop-db'")
}

func TestFirstPodNameEmpty(t *testing.T) {
	runner := &scriptedRunner{}
	runner.runFunc = func(string) executor.Result {
		return executor.Result{Success: true, Stdout: "  "}
	}
	driver := newTestDriver(runner)

	_, err := driver.FirstPodName(context.Background(), "user-7", "shop-db")
	assert.ErrorContains(t, err, "no pod found")
}

func TestExecInPodQuotesShellFragment(t *testing.T) {
	runner := &scriptedRunner{}
	driver := newTestDriver(runner)

	driver.ExecInPod(context.Background(), "user-7", "shop-db-0", "pg_dump -U admin", time.Minute)
	require.Len(t, runner.commands, 1)
	assert.Equal(t,
		"kubectl exec 'shop-db-0' -n 'user-7' -- sh -c 'pg_dump -U admin'",
		runner.commands[0])
}

func TestCopyCommands(t *testing.T) {
	runner := &scriptedRunner{}
	driver := newTestDriver(runner)

	driver.CopyFromPod(context.Background(), "user-7", "shop-db-0", "/tmp/dump", "/var/backups/dump")
	driver.CopyToPod(context.Background(), "user-7", "shop-db-0", "/var/backups/dump", "/tmp/dump")

	require.Len(t, runner.commands, 2)
	assert.Equal(t, "kubectl cp 'user-7'/'shop-db-0':'/tmp/dump' '/var/backups/dump'", runner.commands[0])
	assert.Equal(t, "kubectl cp '/var/backups/dump' 'user-7'/'shop-db-0':'/tmp/dump'", runner.commands[1])
}

func TestLogsDefaultsTail(t *testing.T) {
	runner := &scriptedRunner{}
	driver := newTestDriver(runner)

	driver.Logs(context.Background(), "user-7", "shop", 0)
	assert.Contains(t, runner.commands[0], "--tail=100")

	runner.commands = nil
	driver.Logs(context.Background(), "user-7", "shop", 25)
	assert.Contains(t, runner.commands[0], "--tail=25")
}

func TestLogsFollowStreams(t *testing.T) {
	runner := &scriptedRunner{}
	driver := newTestDriver(runner)

	var lines []string
	err := driver.LogsFollow(context.Background(), "user-7", "shop", func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"line one"}, lines)
	assert.Contains(t, runner.commands[0], "kubectl logs -f deployment/shop -n user-7")
}

func TestServerVersionFallback(t *testing.T) {
	runner := &scriptedRunner{}
	runner.runFunc = func(string) executor.Result {
		return executor.Result{Error: "kubectl: not found"}
	}
	driver := newTestDriver(runner)
	assert.Equal(t, "unknown", driver.ServerVersion(context.Background()))

	runner.runFunc = func(string) executor.Result {
		return executor.Result{Success: true, Stdout: "v1.29.4+k3s1\n"}
	}
	assert.Equal(t, "v1.29.4+k3s1", driver.ServerVersion(context.Background()))
}
