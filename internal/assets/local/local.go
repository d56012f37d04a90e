package local

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"neuralcraft/internal/assets"
)

// Store writes icons into a directory that the HTTP server exposes under
// /assets/.
type Store struct {
	dir     string
	baseURL string
	fetcher *assets.Fetcher
}

// NewStore creates the directory if needed. baseURL is the public prefix the
// directory is served from, e.g. http://localhost:3000/assets.
func NewStore(dir, baseURL string, fetcher *assets.Fetcher) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create assets dir: %w", err)
	}
	return &Store{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), fetcher: fetcher}, nil
}

// Dir is the directory icons are written to.
func (s *Store) Dir() string { return s.dir }

// Relocate downloads sourceURL and writes it as <filename>.png, replacing any
// existing file.
func (s *Store) Relocate(ctx context.Context, sourceURL, filename string) (string, error) {
	name := assets.ObjectPath("", filename)
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid asset filename %q", filename)
	}
	data, err := s.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", err
	}
	return s.baseURL + "/" + url.PathEscape(name), nil
}
