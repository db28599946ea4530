package host

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapes is returned when a request-supplied path resolves
// outside its allow-listed root.
var ErrPathEscapes = errors.New("path escapes allowed root")

// SafeJoin joins a request-supplied name onto an allow-listed root and
// verifies the result stays inside it, following symlinks. Every path
// that crosses the request-to-disk trust boundary goes through here.
func SafeJoin(root, name string) (string, error) {
	if root == "" {
		return "", errors.New("empty allow-list root")
	}

	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", root, err)
	}

	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapes, name)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathEscapes, name)
		}
	}

	joined := filepath.Join(cleanRoot, name)
	if !within(cleanRoot, joined) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapes, name)
	}

	// Resolve symlinks on the deepest existing ancestor so a link
	// pointing outside the root is caught even before the leaf exists.
	resolved, err := resolveExisting(joined)
	if err != nil {
		return "", err
	}
	resolvedRoot, err := filepath.EvalSymlinks(cleanRoot)
	if err != nil {
		// Root must exist; surface the error as-is.
		return "", fmt.Errorf("resolve root %q: %w", cleanRoot, err)
	}
	if !within(resolvedRoot, resolved) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapes, name)
	}

	return joined, nil
}

// resolveExisting evaluates symlinks for the longest existing prefix of
// path and rejoins the remainder.
func resolveExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// within reports whether path is root itself or a descendant of it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
