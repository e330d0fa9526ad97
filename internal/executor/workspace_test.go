package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspacePrepareClearsPrevious(t *testing.T) {
	fs := NewWorkspaceFS(t.TempDir())

	workspace, err := fs.Prepare("shop")
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile("shop", "Dockerfile", "FROM scratch", 0644))
	assert.True(t, fs.Exists("shop", "Dockerfile"))

	// A fresh Prepare leaves no trace of the previous build.
	again, err := fs.Prepare("shop")
	require.NoError(t, err)
	assert.Equal(t, workspace, again)
	assert.False(t, fs.Exists("shop", "Dockerfile"))
}

func TestWorkspaceWriteFileCreatesParents(t *testing.T) {
	root := t.TempDir()
	fs := NewWorkspaceFS(root)

	_, err := fs.Prepare("shop")
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile("shop", "nested/dir/file.txt", "content", 0600))

	data, err := os.ReadFile(filepath.Join(root, "shop", "nested", "dir", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestWorkspaceRejectsInvalidNames(t *testing.T) {
	fs := NewWorkspaceFS(t.TempDir())

	for _, name := range []string{"", "a/b", `a\b`, "..", "../escape"} {
		_, err := fs.Prepare(name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestWorkspaceConfinesRelativePaths(t *testing.T) {
	fs := NewWorkspaceFS(t.TempDir())
	_, err := fs.Prepare("shop")
	require.NoError(t, err)

	assert.Error(t, fs.WriteFile("shop", "", "x", 0644))
	assert.Error(t, fs.WriteFile("shop", "/etc/passwd", "x", 0644))
	assert.Error(t, fs.WriteFile("shop", "../outside.txt", "x", 0644))
	assert.Error(t, fs.WriteFile("shop", "a/../../outside.txt", "x", 0644))

	// Dot segments that stay inside the workspace are fine.
	assert.NoError(t, fs.WriteFile("shop", "a/../inside.txt", "x", 0644))
	assert.True(t, fs.Exists("shop", "inside.txt"))
}

func TestWorkspaceRemove(t *testing.T) {
	fs := NewWorkspaceFS(t.TempDir())
	workspace, err := fs.Prepare("shop")
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile("shop", "Dockerfile", "FROM scratch", 0644))

	require.NoError(t, fs.Remove("shop"))
	_, err = os.Stat(workspace)
	assert.True(t, os.IsNotExist(err))
}
