package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathOutsideWorkspace indicates a path under none of the allowed roots.
	ErrPathOutsideWorkspace = errors.New("path outside workspace")
	// ErrPathProtected indicates a path under a protected prefix.
	ErrPathProtected = errors.New("path protected")
)

// Sandbox confines file tools to a set of workspace roots and keeps them out
// of protected prefixes. Paths are normalized and symlink-resolved before
// checking, so a link inside the workspace cannot point out of it.
type Sandbox struct {
	roots []string
	deny  []string
}

// protectedPrefixes are denied regardless of configuration. ~/.ssh guards key
// material against accidental reads and writes.
func protectedPrefixes() []string {
	prefixes := []string{"/proc", "/sys", "/dev"}
	if home, err := os.UserHomeDir(); err == nil {
		prefixes = append(prefixes, filepath.Join(home, ".ssh"))
	}
	return prefixes
}

// NewSandbox builds a sandbox allowing the given roots. Configured deny
// prefixes (policy `sandbox.deny`) are added to the protected set.
func NewSandbox(roots []string, denied []string) *Sandbox {
	sandbox := &Sandbox{deny: append(protectedPrefixes(), denied...)}
	for _, root := range roots {
		if root == "" {
			continue
		}
		absolute, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		clean := filepath.Clean(absolute)
		// Roots get the same symlink treatment as checked paths, so a
		// symlinked workspace still matches itself.
		if resolved, err := filepath.EvalSymlinks(clean); err == nil {
			clean = resolved
		}
		sandbox.roots = append(sandbox.roots, clean)
	}
	return sandbox
}

// Resolve normalizes a path and checks it against the deny prefixes and the
// allowed roots. The path does not need to exist yet; deny wins over allow.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path: %w", ErrPathOutsideWorkspace)
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	resolved := filepath.Clean(absolute)
	if target, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = target
	}

	for _, prefix := range s.deny {
		if within(prefix, resolved) {
			return "", fmt.Errorf("%w: %s", ErrPathProtected, resolved)
		}
	}
	for _, root := range s.roots {
		if within(root, resolved) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPathOutsideWorkspace, resolved)
}

// ResolveExisting is Resolve for paths that must already exist on disk.
func (s *Sandbox) ResolveExisting(path string) (string, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// within reports whether path equals dir or sits below it. Both arguments
// must already be absolute and cleaned.
func within(dir string, path string) bool {
	if dir == "" {
		return false
	}
	if dir == path {
		return true
	}
	separator := string(os.PathSeparator)
	return strings.HasPrefix(path, strings.TrimSuffix(dir, separator)+separator)
}
