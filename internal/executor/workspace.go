package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkspaceFS confines all build-time file access to one root directory.
// Every path is validated before it touches the disk, so a hostile app
// name or file name can never escape the root.
type WorkspaceFS struct {
	root string
}

func NewWorkspaceFS(root string) *WorkspaceFS {
	return &WorkspaceFS{root: filepath.Clean(root)}
}

// Root returns the configured root directory.
func (w *WorkspaceFS) Root() string {
	return w.root
}

// Path resolves a workspace name to its absolute directory.
func (w *WorkspaceFS) Path(name string) (string, error) {
	return w.resolve(name)
}

// Prepare creates the root and clears any previous workspace with the same
// name, leaving a clean slate for the next clone.
func (w *WorkspaceFS) Prepare(name string) (string, error) {
	workspace, err := w.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return "", fmt.Errorf("failed to create build root: %w", err)
	}
	if err := os.RemoveAll(workspace); err != nil {
		return "", fmt.Errorf("failed to clear previous workspace: %w", err)
	}
	return workspace, nil
}

// WriteFile writes a file at a relative path inside a workspace.
func (w *WorkspaceFS) WriteFile(name, rel, content string, perm os.FileMode) error {
	workspace, err := w.resolve(name)
	if err != nil {
		return err
	}
	path, err := w.confine(workspace, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// Exists reports whether a relative path exists inside a workspace.
func (w *WorkspaceFS) Exists(name, rel string) bool {
	workspace, err := w.resolve(name)
	if err != nil {
		return false
	}
	path, err := w.confine(workspace, rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Remove deletes a whole workspace.
func (w *WorkspaceFS) Remove(name string) error {
	workspace, err := w.resolve(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(workspace)
}

func (w *WorkspaceFS) resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("workspace name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid workspace name %q", name)
	}
	return filepath.Join(w.root, name), nil
}

func (w *WorkspaceFS) confine(workspace, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative: %s", rel)
	}
	path := filepath.Join(workspace, rel)
	if path != workspace && !strings.HasPrefix(path, workspace+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return path, nil
}
