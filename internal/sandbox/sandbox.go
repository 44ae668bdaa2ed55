// Package sandbox confines agent-initiated file writes to a single directory
// tree. Paths are resolved and checked before any byte is written.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/refactorswarm/swarm/internal/fileutil"
)

// ErrOutsideSandbox is returned when a path resolves outside the sandbox root.
var ErrOutsideSandbox = errors.New("path is outside the sandbox")

// Sandbox is a write boundary rooted at a directory.
type Sandbox struct {
	root string
}

// New creates the root directory if needed and returns a Sandbox for it.
// The root is stored with symlinks resolved so containment checks compare
// real paths.
func New(root string) (*Sandbox, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("sandbox root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root %s: %w", abs, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root %s: %w", abs, err)
	}
	return &Sandbox{root: real}, nil
}

// Root returns the absolute sandbox root.
func (s *Sandbox) Root() string {
	return s.root
}

// Path joins name onto the root without validating it. Use Resolve before
// touching the filesystem.
func (s *Sandbox) Path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

// Resolve maps p (relative to the root, or absolute) to an absolute path and
// rejects it if it, or any existing symlinked ancestor, lands outside the root.
func (s *Sandbox) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideSandbox)
	}

	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	candidate = filepath.Clean(candidate)
	if !within(s.root, candidate) || candidate == s.root {
		return "", fmt.Errorf("%w: %s", ErrOutsideSandbox, p)
	}

	real, err := resolveExisting(candidate)
	if err != nil {
		return "", err
	}
	if !within(s.root, real) {
		return "", fmt.Errorf("%w: %s resolves to %s", ErrOutsideSandbox, p, real)
	}
	return candidate, nil
}

// WriteFile resolves p and atomically writes data to it, creating parent
// directories inside the sandbox. It returns the absolute path written.
func (s *Sandbox) WriteFile(p string, data []byte) (string, error) {
	path, err := s.Resolve(p)
	if err != nil {
		return "", err
	}
	if err := fileutil.WriteAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("sandbox write %s: %w", p, err)
	}
	return path, nil
}

// ReadFile reads a file inside the sandbox.
func (s *Sandbox) ReadFile(p string) ([]byte, error) {
	path, err := s.Resolve(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Clear removes everything under the root, keeping the root itself.
func (s *Sandbox) Clear() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read sandbox root: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("clear sandbox: %w", err)
		}
	}
	return nil
}

// resolveExisting evaluates symlinks on the deepest existing prefix of path
// and re-attaches the not-yet-existing remainder.
func resolveExisting(path string) (string, error) {
	existing := path
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return path, nil
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}

	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", existing, err)
	}
	return filepath.Join(append([]string{real}, rest...)...), nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
