package tap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/tap-messagebird/internal/messagebird"
	"github.com/Sternrassler/tap-messagebird/internal/testutil"
	"github.com/Sternrassler/tap-messagebird/pkg/client"
	"github.com/Sternrassler/tap-messagebird/pkg/state"
	"github.com/Sternrassler/tap-messagebird/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	records map[string][]map[string]any
	states  []map[string]state.Bookmark
	schemas []string
}

func newMemorySink() *memorySink {
	return &memorySink{records: make(map[string][]map[string]any)}
}

func (s *memorySink) WriteRecord(rec stream.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Stream] = append(s.records[rec.Stream], rec.Data)
	return nil
}

func (s *memorySink) WriteState(b map[string]state.Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, b)
	return nil
}

func (s *memorySink) WriteSchema(name string, _, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas = append(s.schemas, name)
	return nil
}

func (s *memorySink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[name])
}

var newest = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// conversations returns n conversations, newest first, one per hour.
func conversations(n int, deleted ...int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"id":              fmt.Sprintf("conv-%02d", i),
			"status":          "active",
			"updatedDatetime": newest.Add(-time.Duration(i) * time.Hour).Format(time.RFC3339),
		}
	}
	for _, i := range deleted {
		out[i]["status"] = "deleted"
	}
	return out
}

func conversationMessages(convID string, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"id":              fmt.Sprintf("%s-msg-%d", convID, i),
			"conversationId":  convID,
			"createdDatetime": newest.Add(-time.Duration(i) * time.Minute).Format(time.RFC3339),
		}
	}
	return out
}

type fixture struct {
	mock    *testutil.MockMessageBird
	client  *client.Client
	store   *state.MemoryStore
	manager *state.Manager
	sink    *memorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mock := testutil.NewMockMessageBird()
	t.Cleanup(mock.Close)

	cfg := client.DefaultConfig("test_key")
	cfg.RateLimit = 0
	cfg.InitialBackoff = time.Millisecond
	c, err := client.New(cfg)
	require.NoError(t, err)

	store := state.NewMemoryStore()
	return &fixture{
		mock:    mock,
		client:  c,
		store:   store,
		manager: state.NewManager(store, time.Time{}),
		sink:    newMemorySink(),
	}
}

func (f *fixture) tap(t *testing.T, names ...string) *Tap {
	t.Helper()
	descs, err := messagebird.Select(messagebird.Catalog(messagebird.Options{
		ConversationsBaseURL: f.mock.URL(),
		RESTBaseURL:          f.mock.URL(),
	}), names)
	require.NoError(t, err)

	tp, err := New(f.client, f.manager, f.sink, Config{Streams: descs, ChildWorkers: 3})
	require.NoError(t, err)
	return tp
}

func TestRun_FullSync(t *testing.T) {
	f := newFixture(t)

	convs := conversations(45, 3, 17)
	f.mock.SetOffsetListing("/conversations", convs)
	for _, c := range convs {
		id := c["id"].(string)
		f.mock.SetOffsetListing("/conversations/"+id+"/messages", conversationMessages(id, 3))
	}
	f.mock.SetLinkListing("/messages", []map[string]any{
		{"id": "m1", "createdDatetime": "2024-05-01T00:00:00Z"},
		{"id": "m2", "createdDatetime": "2024-05-02T00:00:00Z"},
	})

	summary, err := f.tap(t).Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)

	assert.Equal(t, 45, f.sink.count("conversations"))
	assert.Equal(t, 43*3, f.sink.count("conversation_messages"))
	assert.Equal(t, 2, f.sink.count("messages"))
	assert.Equal(t, 3, f.mock.RequestCount("/conversations"))

	convSummary := summary.Streams["conversations"]
	assert.EqualValues(t, 45, convSummary.Records)
	assert.EqualValues(t, 2, convSummary.SkippedParents)
	assert.EqualValues(t, 43, summary.Streams["conversation_messages"].ChildRuns)

	ctx := context.Background()
	b, err := f.store.Get(ctx, "conversations")
	require.NoError(t, err)
	assert.True(t, b.Value.Equal(newest), "conversations bookmark = %v, want %v", b.Value, newest)

	b, err = f.store.Get(ctx, "messages")
	require.NoError(t, err)
	assert.True(t, b.Value.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)))

	_, err = f.store.Get(ctx, "conversation_messages")
	require.NoError(t, err)

	require.Len(t, f.sink.states, 2, "one STATE message per top-level resource")
	assert.Len(t, f.sink.states[1], 3)
	assert.Equal(t, []string{"conversations", "conversation_messages", "messages"}, f.sink.schemas)
}

func TestRun_DeletedParentSkipsChildRun(t *testing.T) {
	f := newFixture(t)

	f.mock.SetOffsetListing("/conversations", []map[string]any{
		{"id": "abc123", "status": "active", "updatedDatetime": "2024-06-01T00:00:00Z"},
		{"id": "xyz", "status": "deleted", "updatedDatetime": "2024-05-01T00:00:00Z"},
	})
	f.mock.SetOffsetListing("/conversations/abc123/messages", conversationMessages("abc123", 2))
	f.mock.SetOffsetListing("/conversations/xyz/messages", conversationMessages("xyz", 2))

	summary, err := f.tap(t, "conversations", "conversation_messages").Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.mock.RequestCount("/conversations/abc123/messages"))
	assert.Equal(t, 0, f.mock.RequestCount("/conversations/xyz/messages"))
	assert.EqualValues(t, 1, summary.Streams["conversation_messages"].ChildRuns)
	assert.Equal(t, 2, f.sink.count("conversation_messages"))
}

func TestRun_AbortLeavesBookmarkUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	previous := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.Set(ctx, "conversations", state.Bookmark{ReplicationKey: "updatedDatetime", Value: previous}))

	// 3 pages; the third request fails with a non-retryable error
	f.mock.SetOffsetListing("/conversations", conversations(45))
	f.mock.FailAfter("/conversations", 2, http.StatusForbidden)

	_, err := f.tap(t, "conversations").Run(ctx)
	require.Error(t, err)

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	var streamErr *stream.Error
	require.True(t, errors.As(err, &streamErr))
	assert.Equal(t, 3, streamErr.Page)

	assert.Equal(t, 40, f.sink.count("conversations"), "records of completed pages are still emitted")
	assert.Empty(t, f.sink.states)

	b, err := f.store.Get(ctx, "conversations")
	require.NoError(t, err)
	assert.True(t, b.Value.Equal(previous), "bookmark moved to %v after an aborted run", b.Value)
}

func TestRun_ChildFailureAbortsResource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	convs := conversations(5)
	f.mock.SetOffsetListing("/conversations", convs)
	for _, c := range convs {
		id := c["id"].(string)
		f.mock.SetOffsetListing("/conversations/"+id+"/messages", conversationMessages(id, 1))
	}
	f.mock.FailAfter("/conversations/conv-02/messages", 0, http.StatusNotFound)

	_, err := f.tap(t, "conversations", "conversation_messages").Run(ctx)
	require.Error(t, err)
	assert.Equal(t, client.ErrorClassClient, client.ClassOf(err))

	_, err = f.store.Get(ctx, "conversations")
	assert.ErrorIs(t, err, state.ErrNoBookmark)
	_, err = f.store.Get(ctx, "conversation_messages")
	assert.ErrorIs(t, err, state.ErrNoBookmark)
}

func TestRun_IncrementalEarlyStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// bookmark on the date of conversation 30 (one per hour, newest first)
	bookmark := newest.Add(-30 * time.Hour)
	require.NoError(t, f.store.Set(ctx, "conversations", state.Bookmark{ReplicationKey: "updatedDatetime", Value: bookmark}))

	f.mock.SetOffsetListing("/conversations", conversations(100))

	summary, err := f.tap(t, "conversations").Run(ctx)
	require.NoError(t, err)

	assert.True(t, summary.Streams["conversations"].EarlyStopped)
	assert.Less(t, f.mock.RequestCount("/conversations"), 5)

	b, err := f.store.Get(ctx, "conversations")
	require.NoError(t, err)
	assert.True(t, b.Value.Equal(newest))
}

func TestRun_MessagesStartFromBookmark(t *testing.T) {
	f := newFixture(t)
	f.manager = state.NewManager(f.store, time.Date(2021, 10, 18, 0, 0, 0, 0, time.UTC))
	f.mock.SetLinkListing("/messages", nil)

	_, err := f.tap(t, "messages").Run(context.Background())
	require.NoError(t, err)

	reqs := f.mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "2021-10-18T00:00:00Z", reqs[0].Query().Get("from"))
	assert.Equal(t, "AccessKey test_key", f.mock.LastRequestHeader.Get("Authorization"))
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.mock.SetOffsetListing("/conversations", conversations(45))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.tap(t, "conversations").Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = f.store.Get(context.Background(), "conversations")
	assert.ErrorIs(t, err, state.ErrNoBookmark)
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)
	descs := messagebird.Catalog(messagebird.Options{})

	_, err := New(f.client, f.manager, f.sink, Config{})
	assert.Error(t, err)

	_, err = New(f.client, f.manager, f.sink, Config{Streams: descs[1:2]})
	assert.ErrorContains(t, err, "requires its parent")

	_, err = New(f.client, f.manager, f.sink, Config{Streams: []stream.Descriptor{descs[0], descs[0]}})
	assert.ErrorContains(t, err, "selected twice")

	_, err = New(nil, f.manager, f.sink, Config{Streams: descs})
	assert.Error(t, err)
}
