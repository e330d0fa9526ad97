package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRunner() *ShellRunner {
	return NewShellRunner(zap.NewNop())
}

func TestRunCapturesOutput(t *testing.T) {
	result := newTestRunner().Run(context.Background(), "echo out; echo err >&2", 10*time.Second)

	assert.True(t, result.Success)
	assert.Equal(t, "out", result.Stdout)
	assert.Equal(t, "err", result.Stderr)
	assert.Empty(t, result.Error)
}

func TestRunNonZeroExit(t *testing.T) {
	result := newTestRunner().Run(context.Background(), "echo before; exit 3", 10*time.Second)

	assert.False(t, result.Success)
	assert.Equal(t, "before", result.Stdout)
	assert.Contains(t, result.Error, "exit status 3")
}

func TestRunTimeout(t *testing.T) {
	start := time.Now()
	result := newTestRunner().Run(context.Background(), "sleep 30", 500*time.Millisecond)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunWithInput(t *testing.T) {
	result := newTestRunner().RunWithInput(context.Background(), "cat", "hello stdin", 10*time.Second)

	assert.True(t, result.Success)
	assert.Equal(t, "hello stdin", result.Stdout)
}

func TestRunTrimsTrailingWhitespace(t *testing.T) {
	result := newTestRunner().Run(context.Background(), "printf 'value\n\n'", 10*time.Second)

	assert.True(t, result.Success)
	assert.Equal(t, "value", result.Stdout)
}

func TestSpawnStreamsLines(t *testing.T) {
	var lines []string
	exitCode, err := newTestRunner().Spawn(context.Background(), "sh",
		[]string{"-c", "echo one; echo two; echo three >&2"},
		func(line string) { lines = append(lines, line) })

	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.ElementsMatch(t, []string{"one", "two", "three"}, lines)
}

func TestSpawnReportsExitCode(t *testing.T) {
	exitCode, err := newTestRunner().Spawn(context.Background(), "sh",
		[]string{"-c", "exit 7"}, func(string) {})

	require.NoError(t, err)
	assert.Equal(t, 7, exitCode)
}

func TestSpawnKilledOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := newTestRunner().Spawn(ctx, "sleep", []string{"30"}, func(string) {})
	assert.Error(t, err)
}

func TestCappedBufferTruncates(t *testing.T) {
	buf := newCappedBuffer(10)
	n, err := buf.Write([]byte("0123456789abcdef"))

	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, "0123456789"+truncationMarker, buf.String())

	// Later writes are swallowed once truncated.
	buf.Write([]byte("more"))
	assert.NotContains(t, buf.String(), "more")
}
