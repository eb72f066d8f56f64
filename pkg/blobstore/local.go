package blobstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrymomot/uploadguard/pkg/pathsafe"
)

// LocalStorage implements Storage on the local filesystem. All operations
// are confined to the base directory; key validation and path containment
// both have to pass before any filesystem call.
type LocalStorage struct {
	resolver *pathsafe.Resolver
}

// NewLocalStorage creates a filesystem-backed store rooted at baseDir,
// creating the directory if needed.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	resolver, err := pathsafe.NewResolver(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &LocalStorage{resolver: resolver}, nil
}

func (s *LocalStorage) resolve(key string) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	abs, err := s.resolver.Resolve(key)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return abs, nil
}

// Put writes the object at key, creating parent directories as needed.
func (s *LocalStorage) Put(ctx context.Context, key string, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	abs, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToWrite, err)
	}

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToWrite, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(abs)
		return fmt.Errorf("%w: %v", ErrFailedToWrite, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(abs)
		return fmt.Errorf("%w: %v", ErrFailedToWrite, err)
	}

	return nil
}

// Get opens the object at key for reading.
func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	abs, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: %v", ErrFailedToRead, err)
	}
	return f, nil
}

// Delete removes the object at key. Idempotent.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	abs, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrFailedToWrite, err)
	}
	return nil
}

// Exists reports whether an object is stored at key.
func (s *LocalStorage) Exists(ctx context.Context, key string) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}

	abs, err := s.resolve(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// Move consumes the local file at srcPath into the object at key. Rename is
// attempted first; cross-device sources fall back to copy-then-remove.
func (s *LocalStorage) Move(ctx context.Context, srcPath, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	abs, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToMove, err)
	}

	if err := os.Rename(srcPath, abs); err == nil {
		return nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToMove, err)
	}

	if err := s.Put(ctx, key, src); err != nil {
		_ = src.Close()
		return err
	}
	_ = src.Close()

	if err := os.Remove(srcPath); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToMove, err)
	}
	return nil
}

// List enumerates keys under prefix, recursively.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	root := s.resolver.Root()
	if prefix != "" {
		abs, err := s.resolve(prefix)
		if err != nil {
			return nil, err
		}
		root = abs
	}

	var keys []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			return nil
		}
		rel, err := s.resolver.Rel(path)
		if err != nil {
			return nil
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToRead, err)
	}

	return keys, nil
}
