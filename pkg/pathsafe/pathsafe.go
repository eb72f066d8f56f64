package pathsafe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver anchors path operations to a root directory. All resolved paths
// are guaranteed to be lexically contained under the root; a Resolver never
// follows a path outside it.
type Resolver struct {
	root string
}

// NewResolver creates a Resolver rooted at dir. The directory is resolved to
// an absolute path and created if it does not exist.
func NewResolver(dir string) (*Resolver, error) {
	if dir == "" {
		return nil, ErrInvalidRoot
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}

	// Resolve symlinks in the root itself so later prefix checks compare
	// against the real location.
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}

	return &Resolver{root: abs}, nil
}

// Root returns the absolute root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve joins rel to the root and verifies the result stays inside it.
// Traversal segments are neutralized by cleaning before the containment
// check, so "../x" and "a/../../x" both fail rather than escaping.
func (r *Resolver) Resolve(rel string) (string, error) {
	cleaned := filepath.Clean("/" + rel) // forces . and .. resolution against a fixed anchor
	abs := filepath.Join(r.root, cleaned)

	if !r.Contains(abs) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, rel)
	}

	return abs, nil
}

// Contains reports whether abs is the root or lexically under it.
func (r *Resolver) Contains(abs string) bool {
	abs = filepath.Clean(abs)
	return abs == r.root || strings.HasPrefix(abs, r.root+string(filepath.Separator))
}

// Rel returns abs relative to the root, failing if abs is not contained.
func (r *Resolver) Rel(abs string) (string, error) {
	if !r.Contains(abs) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, abs)
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathEscapesRoot, err)
	}
	return rel, nil
}

// RejectSymlink fails if abs exists and is a symlink. Missing paths pass:
// the caller is about to create them.
func (r *Resolver) RejectSymlink(abs string) error {
	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrSymlinkRejected, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return ErrSymlinkRejected
	}
	return nil
}

// ValidIdentifier reports whether id is safe to reconstruct a storage path
// from: non-empty, relative, built only from [a-zA-Z0-9._/-], and free of
// empty, "." and ".." segments.
func ValidIdentifier(id string) bool {
	if id == "" || strings.HasPrefix(id, "/") {
		return false
	}

	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-' || c == '/':
		default:
			return false
		}
	}

	for _, seg := range strings.Split(id, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}

	return true
}
