package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/tap-messagebird/pkg/client"
	"github.com/Sternrassler/tap-messagebird/pkg/pagination"
)

// offsetFetcher serves a fixed list of records with offset/limit pagination.
type offsetFetcher struct {
	mu       sync.Mutex
	records  []map[string]any
	requests []client.PageRequest
	err      error
}

func (f *offsetFetcher) FetchPage(_ context.Context, req client.PageRequest) (*client.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}

	offset, _ := strconv.Atoi(req.Params.Get("offset"))
	limit, _ := strconv.Atoi(req.Params.Get("limit"))
	end := min(offset+limit, len(f.records))
	start := min(offset, end)

	items := make([]any, 0, end-start)
	for _, r := range f.records[start:end] {
		items = append(items, r)
	}
	return &client.Response{
		StatusCode: 200,
		Body: map[string]any{
			"offset":     float64(offset),
			"limit":      float64(limit),
			"count":      float64(len(items)),
			"totalCount": float64(len(f.records)),
			"items":      items,
		},
	}, nil
}

func (f *offsetFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func makeRecords(n int, updated func(i int) string) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"id": fmt.Sprintf("c%02d", i)}
		if updated != nil {
			out[i]["updatedDatetime"] = updated(i)
		}
	}
	return out
}

func conversationsDescriptor() Descriptor {
	return Descriptor{
		Name:           "conversations",
		BaseURL:        "https://conversations.messagebird.com/v1",
		Path:           "/conversations",
		PrimaryKeys:    []string{"id"},
		ReplicationKey: "updatedDatetime",
		RecordsPath:    "items",
		Params:         url.Values{"status": {"all"}},
		Pagination: pagination.Spec{
			Strategy:          pagination.StrategyOffset,
			PageSize:          20,
			AssumeNewestFirst: true,
		},
	}
}

func collect(t *testing.T, d *Driver) ([]Record, error) {
	t.Helper()
	var out []Record
	for rec, err := range d.Records(context.Background()) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func TestDriver_OffsetWalk(t *testing.T) {
	fetcher := &offsetFetcher{records: makeRecords(45, nil)}
	d, err := NewDriver(conversationsDescriptor(), SyncContext{}, fetcher)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	records, err := collect(t, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(records) != 45 {
		t.Fatalf("got %d records, want 45", len(records))
	}
	for i, r := range records {
		if want := fmt.Sprintf("c%02d", i); r.Data["id"] != want {
			t.Errorf("record %d id = %v, want %s (API order)", i, r.Data["id"], want)
		}
		if r.Stream != "conversations" {
			t.Errorf("record %d stream = %s, want conversations", i, r.Stream)
		}
	}
	if fetcher.calls() != 3 {
		t.Errorf("requests = %d, want 3", fetcher.calls())
	}
	if got := d.Stats(); got.Pages != 3 || got.Records != 45 || got.EarlyStopped {
		t.Errorf("Stats() = %+v, want 3 pages, 45 records, no early stop", got)
	}
	for _, req := range fetcher.requests {
		if req.Params.Get("status") != "all" {
			t.Errorf("request %v missing status=all", req.Params)
		}
	}
}

func TestDriver_EmptyFirstPage(t *testing.T) {
	fetcher := &offsetFetcher{}
	d, err := NewDriver(conversationsDescriptor(), SyncContext{}, fetcher)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	records, err := collect(t, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
	if fetcher.calls() != 1 {
		t.Errorf("requests = %d, want 1", fetcher.calls())
	}
}

func TestDriver_NonRestartable(t *testing.T) {
	fetcher := &offsetFetcher{records: makeRecords(5, nil)}
	d, err := NewDriver(conversationsDescriptor(), SyncContext{}, fetcher)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	seq := d.Records(context.Background())
	first := 0
	for _, err := range seq {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		first++
	}
	if first != 5 {
		t.Fatalf("first iteration got %d records, want 5", first)
	}

	for _, again := range []func(yield func(Record, error) bool){seq, d.Records(context.Background())} {
		var errs []error
		for rec, err := range again {
			if rec.Data != nil {
				t.Errorf("second iteration yielded a record: %v", rec.Data)
			}
			errs = append(errs, err)
		}
		if len(errs) != 1 || !errors.Is(errs[0], ErrDriverConsumed) {
			t.Errorf("second iteration yielded %v, want exactly one ErrDriverConsumed", errs)
		}
	}
	if fetcher.calls() != 1 {
		t.Errorf("requests = %d, want 1", fetcher.calls())
	}
}

func TestDriver_EarlyStop(t *testing.T) {
	bookmark := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// newest first: the 20th record falls on 2023-12-31
	fetcher := &offsetFetcher{records: makeRecords(45, func(i int) string {
		return time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC).Add(-time.Duration(i) * 2 * time.Hour).Format(time.RFC3339)
	})}

	d, err := NewDriver(conversationsDescriptor(), SyncContext{Bookmark: &bookmark}, fetcher)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	records, err := collect(t, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 20 {
		t.Errorf("got %d records, want the first page only (20)", len(records))
	}
	if fetcher.calls() != 1 {
		t.Errorf("requests = %d, want 1", fetcher.calls())
	}
	if !d.Stats().EarlyStopped {
		t.Error("Stats().EarlyStopped = false, want true")
	}
}

func TestDriver_EarlyStopDisabled(t *testing.T) {
	bookmark := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &offsetFetcher{records: makeRecords(45, func(int) string { return "2020-01-01T00:00:00Z" })}

	d, err := NewDriver(conversationsDescriptor().WithEarlyStop(false), SyncContext{Bookmark: &bookmark}, fetcher)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	records, err := collect(t, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 45 {
		t.Errorf("got %d records, want 45", len(records))
	}
}

func TestDriver_ConsumerBreak(t *testing.T) {
	fetcher := &offsetFetcher{records: makeRecords(45, nil)}
	d, err := NewDriver(conversationsDescriptor(), SyncContext{}, fetcher)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	for _, err := range d.Records(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		break
	}
	if fetcher.calls() != 1 {
		t.Errorf("requests = %d, want 1 (lazy)", fetcher.calls())
	}
}

func TestDriver_FetchError(t *testing.T) {
	apiErr := &client.APIError{
		StatusCode: 401,
		ErrorClass: client.ErrorClassClient,
		Status:     "Unauthorized",
		Path:       "/conversations",
	}
	fetcher := &offsetFetcher{err: apiErr}

	desc := conversationsDescriptor()
	desc.Params = url.Values{"status": {"all"}, "access_token": {"s3cret"}}
	d, err := NewDriver(desc, SyncContext{}, fetcher)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	_, err = collect(t, d)
	if err == nil {
		t.Fatal("expected error")
	}

	var streamErr *Error
	if !errors.As(err, &streamErr) {
		t.Fatalf("error %T is not *stream.Error", err)
	}
	if streamErr.Page != 1 || streamErr.Path != "/conversations" {
		t.Errorf("error context = page %d path %s, want page 1 /conversations", streamErr.Page, streamErr.Path)
	}
	if client.ClassOf(err) != client.ErrorClassClient {
		t.Errorf("ClassOf() = %s, want client", client.ClassOf(err))
	}
	if strings.Contains(err.Error(), "s3cret") {
		t.Errorf("error leaks credential: %s", err)
	}
}

func TestDriver_ContextCancelled(t *testing.T) {
	fetcher := &offsetFetcher{records: makeRecords(5, nil)}
	d, err := NewDriver(conversationsDescriptor(), SyncContext{}, fetcher)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range d.Records(ctx) {
		gotErr = err
	}
	if !errors.Is(gotErr, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", gotErr)
	}
	if fetcher.calls() != 0 {
		t.Errorf("requests = %d, want 0", fetcher.calls())
	}
}

func TestDriver_ChildPathAndStartParam(t *testing.T) {
	bookmark := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	fetcher := &offsetFetcher{}

	desc := Descriptor{
		Name:        "conversation_messages",
		BaseURL:     "https://conversations.messagebird.com/v1",
		Path:        "/conversations/{parent_id}/messages",
		Parent:      "conversations",
		RecordsPath: "items",
		StartParam:  "from",
		Pagination:  pagination.Spec{Strategy: pagination.StrategyOffset, PageSize: 20},
	}

	d, err := NewDriver(desc, SyncContext{ParentID: "abc/123", Bookmark: &bookmark}, fetcher)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	if _, err := collect(t, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := fetcher.requests[0]
	if req.Path != "/conversations/abc%2F123/messages" {
		t.Errorf("path = %s, want escaped parent id", req.Path)
	}
	if req.Params.Get("from") != "2024-02-03T04:05:06Z" {
		t.Errorf("from = %s, want bookmark", req.Params.Get("from"))
	}

	if _, err := NewDriver(desc, SyncContext{}, fetcher); err == nil {
		t.Error("expected error for child descriptor without parent id")
	}
}
