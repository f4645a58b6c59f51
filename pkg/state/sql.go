package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect struct {
	driver string
	schema string
	get    string
	all    string
	upsert string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS bookmarks (
			resource TEXT PRIMARY KEY,
			replication_key TEXT NOT NULL DEFAULT '',
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		get: `SELECT replication_key, value FROM bookmarks WHERE resource = ?`,
		all: `SELECT resource, replication_key, value FROM bookmarks`,
		upsert: `INSERT INTO bookmarks (resource, replication_key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (resource) DO UPDATE SET
				replication_key = excluded.replication_key,
				value = excluded.value,
				updated_at = excluded.updated_at`,
	}

	postgresDialect = dialect{
		driver: "postgres",
		schema: `CREATE TABLE IF NOT EXISTS tap_bookmarks (
			resource TEXT PRIMARY KEY,
			replication_key TEXT NOT NULL DEFAULT '',
			value TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		get: `SELECT replication_key, value FROM tap_bookmarks WHERE resource = $1`,
		all: `SELECT resource, replication_key, value FROM tap_bookmarks`,
		upsert: `INSERT INTO tap_bookmarks (resource, replication_key, value, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (resource) DO UPDATE SET
				replication_key = EXCLUDED.replication_key,
				value = EXCLUDED.value,
				updated_at = EXCLUDED.updated_at`,
	}
)

// sqlStore stores bookmarks in a single table. Timestamps travel as
// RFC 3339 strings so both drivers scan them the same way.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func openSQL(ctx context.Context, d dialect, dsn string) (*sqlStore, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.driver, err)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", d.driver, err)
	}
	return &sqlStore{db: db, d: d}, nil
}

func (s *sqlStore) Get(ctx context.Context, resource string) (Bookmark, error) {
	var key, value string
	err := s.db.QueryRowContext(ctx, s.d.get, resource).Scan(&key, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return Bookmark{}, ErrNoBookmark
	}
	if err != nil {
		return Bookmark{}, fmt.Errorf("query bookmark %s: %w", resource, err)
	}
	return decodeRow(resource, key, value)
}

func (s *sqlStore) Set(ctx context.Context, resource string, bookmark Bookmark) error {
	_, err := s.db.ExecContext(ctx, s.d.upsert,
		resource,
		bookmark.ReplicationKey,
		bookmark.Value.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert bookmark %s: %w", resource, err)
	}
	return nil
}

func (s *sqlStore) All(ctx context.Context) (map[string]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, s.d.all)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Bookmark)
	for rows.Next() {
		var resource, key, value string
		if err := rows.Scan(&resource, &key, &value); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		b, err := decodeRow(resource, key, value)
		if err != nil {
			return nil, err
		}
		out[resource] = b
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func decodeRow(resource, key, value string) (Bookmark, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return Bookmark{}, fmt.Errorf("bookmark %s: invalid value %q: %w", resource, value, err)
	}
	return Bookmark{ReplicationKey: key, Value: ts.UTC()}, nil
}

// SQLiteStore keeps bookmarks in a local SQLite database.
type SQLiteStore struct {
	*sqlStore
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	s, err := openSQL(ctx, sqliteDialect, path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// single writer
	s.db.SetMaxOpenConns(1)
	return &SQLiteStore{s}, nil
}

// PostgresStore keeps bookmarks in the tap_bookmarks table.
type PostgresStore struct {
	*sqlStore
}

// OpenPostgres connects with a lib/pq DSN and creates the table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	s, err := openSQL(ctx, postgresDialect, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{s}, nil
}
