// Package fs implements blob.Store on the local filesystem.
//
// Objects are sharded into two-character prefix directories to keep
// directory sizes bounded. URIs have the form "fs://<relative-path>".
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pitchforge/pitchforge/pkg/blob"
)

const uriScheme = "fs://"

// Store is a filesystem-backed blob store rooted at a single directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob fs: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob fs: create root %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Put implements [blob.Store]. The key (typically a document UUID) becomes
// the filename under its two-character shard directory.
func (s *Store) Put(_ context.Context, key string, data []byte) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob fs: key must not be empty")
	}
	rel := shard(key)
	path := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("blob fs: create shard dir: %w", err)
	}

	// Write-then-rename so readers never observe a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", fmt.Errorf("blob fs: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob fs: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob fs: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob fs: rename: %w", err)
	}
	return uriScheme + filepath.ToSlash(rel), nil
}

// Get implements [blob.Store].
func (s *Store) Get(_ context.Context, uri string) ([]byte, error) {
	path, err := s.resolve(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, blob.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blob fs: read %q: %w", uri, err)
	}
	return data, nil
}

// Delete implements [blob.Store].
func (s *Store) Delete(_ context.Context, uri string) error {
	path, err := s.resolve(uri)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("blob fs: delete %q: %w", uri, err)
	}
	return nil
}

// resolve maps an fs:// URI back to a path under the root, rejecting
// escapes out of the root directory.
func (s *Store) resolve(uri string) (string, error) {
	rel, ok := strings.CutPrefix(uri, uriScheme)
	if !ok {
		return "", fmt.Errorf("blob fs: unrecognized uri %q", uri)
	}
	rel = filepath.FromSlash(rel)
	if rel == "" || strings.Contains(rel, "..") {
		return "", fmt.Errorf("blob fs: invalid uri %q", uri)
	}
	return filepath.Join(s.dir, rel), nil
}

// shard places key under a two-character prefix directory.
func shard(key string) string {
	prefix := key
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(prefix, key)
}

var _ blob.Store = (*Store)(nil)
