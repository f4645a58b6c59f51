package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoBookmark is returned by Store.Get when a resource has no bookmark yet.
var ErrNoBookmark = errors.New("no bookmark")

// Bookmark is the persisted replication position of one resource.
type Bookmark struct {
	ReplicationKey string    `json:"replication_key,omitempty"`
	Value          time.Time `json:"replication_key_value"`
}

// Store is a bookmark backend.
type Store interface {
	// Get returns ErrNoBookmark when the resource has none.
	Get(ctx context.Context, resource string) (Bookmark, error)
	Set(ctx context.Context, resource string, bookmark Bookmark) error
	All(ctx context.Context) (map[string]Bookmark, error)
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendRedis    Backend = "redis"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Backend Backend

	// Path is the state file (file) or database file (sqlite).
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	PostgresDSN string
}

// Open creates the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.Path)
	case BackendRedis:
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
