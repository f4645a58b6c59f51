package state

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps bookmarks in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	bookmarks map[string]Bookmark
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bookmarks: make(map[string]Bookmark)}
}

func (s *MemoryStore) Get(_ context.Context, resource string) (Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookmarks[resource]
	if !ok {
		return Bookmark{}, ErrNoBookmark
	}
	return b, nil
}

func (s *MemoryStore) Set(_ context.Context, resource string, bookmark Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks[resource] = bookmark
	return nil
}

func (s *MemoryStore) All(context.Context) (map[string]Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.bookmarks), nil
}

func (s *MemoryStore) Close() error { return nil }
