package blobstore

import (
	"context"
	"io"
	"strings"
)

// Storage is the durable-store contract over path-like string keys. The
// containment pipeline requires only these operations from its final
// destination; durability guarantees are the backend's concern.
type Storage interface {
	// Put writes the object at key, overwriting any existing object.
	Put(ctx context.Context, key string, r io.Reader) error
	// Get opens the object at key for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) bool
	// Move consumes the local file at srcPath into the object at key. On
	// success the source file is gone.
	Move(ctx context.Context, srcPath, key string) error
	// List enumerates keys under prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)
}

// validKey rejects keys with traversal segments, absolute prefixes, or
// embedded NUL bytes before they reach any backend.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\x00") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
