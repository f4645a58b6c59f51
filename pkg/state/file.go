package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// Document is the Singer state file layout.
type Document struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

// FileStore persists bookmarks as a Singer state JSON file. Writes replace
// the file atomically.
type FileStore struct {
	path string

	mu  sync.Mutex
	doc Document
}

// NewFileStore loads path if it exists. A missing file starts empty.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}

	s := &FileStore{path: path, doc: Document{Bookmarks: map[string]Bookmark{}}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if s.doc.Bookmarks == nil {
		s.doc.Bookmarks = map[string]Bookmark{}
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, resource string) (Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.doc.Bookmarks[resource]
	if !ok {
		return Bookmark{}, ErrNoBookmark
	}
	return b, nil
}

func (s *FileStore) Set(_ context.Context, resource string, bookmark Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.doc.Bookmarks[resource]
	s.doc.Bookmarks[resource] = bookmark
	if err := s.flush(); err != nil {
		if had {
			s.doc.Bookmarks[resource] = prev
		} else {
			delete(s.doc.Bookmarks, resource)
		}
		return err
	}
	return nil
}

func (s *FileStore) All(context.Context) (map[string]Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Bookmark, len(s.doc.Bookmarks))
	for k, v := range s.doc.Bookmarks {
		out[k] = v
	}
	return out, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
