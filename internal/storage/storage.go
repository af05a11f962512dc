// Package storage fetches model artifacts (weights and label tables) from
// the configured backend at startup.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrArtifactNotFound is returned when a backend has no artifact by that name.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore opens named artifacts for reading.
type ArtifactStore interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Name() string
}

// LocalStore reads artifacts from a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Name identifies the backend in logs.
func (s *LocalStore) Name() string { return "local" }

// Path is where the named artifact lives on disk.
func (s *LocalStore) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Open opens the named file under the store directory.
func (s *LocalStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, s.Path(name))
	}
	return f, err
}

// Materialize copies the named artifact from store into dir and returns its
// local path. The file is written to a temporary name and renamed into place,
// so a failed download never leaves a truncated artifact behind.
func Materialize(ctx context.Context, store ArtifactStore, name, dir string) (string, error) {
	dest := filepath.Join(dir, filepath.Base(name))
	if local, ok := store.(*LocalStore); ok && local.Path(name) == dest {
		if _, err := os.Stat(dest); err != nil {
			return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, dest)
		}
		return dest, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	src, err := store.Open(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to open %s from %s: %w", name, store.Name(), err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to download %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return dest, nil
}
