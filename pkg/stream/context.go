package stream

import "time"

// SyncContext is the per-run input of one driver.
type SyncContext struct {
	// ParentID is set for child runs.
	ParentID string

	// Bookmark is the replication start point, nil for a full sync.
	Bookmark *time.Time
}

// Record is one API record passed through unmodified.
type Record struct {
	Stream string
	Data   map[string]any
}

// Stats summarises a driver run.
type Stats struct {
	Pages        int
	Records      int
	EarlyStopped bool
}
