package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns the per-project checkout directories under a common root.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the checkout directory for slug. The directory is not created.
func (m *Manager) Path(slug string) (string, error) {
	if slug == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) {
		return "", fmt.Errorf("invalid workspace identifier %q", slug)
	}
	return filepath.Join(m.root, slug), nil
}

// Cleanup removes the workspace directory. Missing paths are not an error.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	// Ensure we only remove directories within the configured root.
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}

// CleanupSlug removes the workspace associated with slug.
func (m *Manager) CleanupSlug(slug string) error {
	path, err := m.Path(slug)
	if err != nil {
		return err
	}
	return m.Cleanup(path)
}
