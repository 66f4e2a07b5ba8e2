package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gpscal/web-ftp-server/internal/pathutil"
)

// Resolver confines client-supplied paths to a single directory tree on the
// real filesystem. Containment is checked after symlink resolution, so a
// link pointing outside the root cannot be used to reach it.
type Resolver struct {
	root string
}

// NewResolver creates the root directory if needed and canonicalizes it.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root %s: %w", abs, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize root %s: %w", abs, err)
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical absolute path of the storage root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve normalizes raw, anchors it at the root, canonicalizes the result
// against the real filesystem and verifies it did not escape. It returns
// the canonical slash-separated path relative to the root; the root itself
// resolves to "".
func (r *Resolver) Resolve(raw string) (string, error) {
	rel := pathutil.Normalize(raw)
	candidate := filepath.Join(r.root, filepath.FromSlash(rel))
	resolved, err := canonicalize(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	within, err := filepath.Rel(r.root, resolved)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}
	if within == "." {
		return "", nil
	}
	return filepath.ToSlash(within), nil
}

// canonicalize resolves symlinks in p while tolerating a missing suffix:
// the deepest existing ancestor is resolved and the remainder joined back
// on. A dangling symlink at the boundary is followed manually so a write
// through it lands where the link points, not where the link sits.
func canonicalize(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
		return "", err
	}
	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}
	resolvedParent, err := canonicalize(parent)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(resolvedParent, filepath.Base(p))
	if target, err := os.Readlink(joined); err == nil {
		if !filepath.IsAbs(target) {
			target = filepath.Join(resolvedParent, target)
		}
		return canonicalize(target)
	}
	return joined, nil
}
