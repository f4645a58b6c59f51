package state

import (
	"sync"
	"time"

	"github.com/Sternrassler/tap-messagebird/pkg/pagination"
)

// Watermark tracks the highest replication value observed during a run.
// It is safe for concurrent use.
type Watermark struct {
	key string

	mu  sync.Mutex
	max time.Time
}

// NewWatermark tracks record field key.
func NewWatermark(key string) *Watermark {
	return &Watermark{key: key}
}

// Key returns the tracked replication key.
func (w *Watermark) Key() string {
	return w.key
}

// Observe folds one record in. Records without a parseable value are ignored.
func (w *Watermark) Observe(record map[string]any) {
	if w.key == "" {
		return
	}
	ts, ok := pagination.ReplicationValue(record, w.key)
	if !ok {
		return
	}
	w.mu.Lock()
	if ts.After(w.max) {
		w.max = ts
	}
	w.mu.Unlock()
}

// Max returns the highest value seen, false when nothing was observed.
func (w *Watermark) Max() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.max, !w.max.IsZero()
}
