package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_BookmarkFallsBackToStartDate(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2021, 10, 18, 0, 0, 0, 0, time.UTC)
	m := NewManager(NewMemoryStore(), start)

	got, err := m.Bookmark(ctx, "conversations")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(start))

	full := NewManager(NewMemoryStore(), time.Time{})
	got, err = full.Bookmark(ctx, "conversations")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManager_CommitMonotonic(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), time.Time{})
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		maxSeen time.Time
		want    bool
		stored  time.Time
	}{
		{"first commit", t1, true, t1},
		{"same value", t1, false, t1},
		{"older value", t1.Add(-time.Hour), false, t1},
		{"zero value", time.Time{}, false, t1},
		{"newer value", t1.Add(time.Hour), true, t1.Add(time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Commit(ctx, "conversations", "updatedDatetime", tt.maxSeen)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			b, err := m.Bookmark(ctx, "conversations")
			require.NoError(t, err)
			assert.True(t, b.Equal(tt.stored), "bookmark = %v, want %v", b, tt.stored)
		})
	}
}

type failingStore struct {
	MemoryStore
}

func (*failingStore) Get(context.Context, string) (Bookmark, error) {
	return Bookmark{}, errors.New("connection refused")
}

func TestManager_StoreErrors(t *testing.T) {
	ctx := context.Background()
	m := NewManager(&failingStore{}, time.Now())

	_, err := m.Bookmark(ctx, "messages")
	assert.ErrorContains(t, err, "connection refused")

	_, err = m.Commit(ctx, "messages", "createdDatetime", time.Now())
	assert.ErrorContains(t, err, "connection refused")
}

func TestManager_Snapshot(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), time.Time{})
	ts := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)

	_, err := m.Commit(ctx, "messages", "createdDatetime", ts)
	require.NoError(t, err)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]Bookmark{"messages": {ReplicationKey: "createdDatetime", Value: ts}}, snap)
}

func TestWatermark(t *testing.T) {
	w := NewWatermark("updatedDatetime")

	_, ok := w.Max()
	assert.False(t, ok)

	w.Observe(map[string]any{"updatedDatetime": "2024-01-02T00:00:00Z"})
	w.Observe(map[string]any{"updatedDatetime": "2024-03-01T12:30:00.5Z"})
	w.Observe(map[string]any{"updatedDatetime": "2024-02-01T00:00:00Z"})
	w.Observe(map[string]any{"updatedDatetime": "garbage"})
	w.Observe(map[string]any{"id": "no key"})

	got, ok := w.Max()
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2024, 3, 1, 12, 30, 0, 500000000, time.UTC)))
}
