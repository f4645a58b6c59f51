package singer

import (
	"bufio"
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/tap-messagebird/pkg/state"
	"github.com/Sternrassler/tap-messagebird/pkg/stream"
	"github.com/goccy/go-json"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q is not JSON: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriter_Record(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

	err := w.WriteRecord(stream.Record{
		Stream: "conversations",
		Data:   map[string]any{"id": "abc123", "status": "active"},
	})
	if err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	msg := lines[0]
	if msg["type"] != "RECORD" || msg["stream"] != "conversations" {
		t.Errorf("message = %v, want RECORD for conversations", msg)
	}
	if msg["time_extracted"] != "2024-01-01T12:00:00Z" {
		t.Errorf("time_extracted = %v", msg["time_extracted"])
	}
	rec, _ := msg["record"].(map[string]any)
	if rec["id"] != "abc123" || rec["status"] != "active" {
		t.Errorf("record = %v, want passed through", rec)
	}
}

func TestWriter_State(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	err := w.WriteState(map[string]state.Bookmark{
		"conversations": {ReplicationKey: "updatedDatetime", Value: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatalf("WriteState() error = %v", err)
	}

	want := `{"type":"STATE","value":{"bookmarks":{"conversations":{"replication_key":"updatedDatetime","replication_key_value":"2024-01-01T00:00:00Z"}}}}`
	if got := strings.TrimSpace(buf.String()); got != want {
		t.Errorf("state line = %s, want %s", got, want)
	}
}

func TestWriter_Schema(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteSchema("messages", []string{"id"}, []string{"createdDatetime"}); err != nil {
		t.Fatalf("WriteSchema() error = %v", err)
	}

	msg := decodeLines(t, &buf)[0]
	if msg["type"] != "SCHEMA" {
		t.Errorf("type = %v, want SCHEMA", msg["type"])
	}
	keys, _ := msg["key_properties"].([]any)
	if len(keys) != 1 || keys[0] != "id" {
		t.Errorf("key_properties = %v, want [id]", msg["key_properties"])
	}
}

func TestWriter_ConcurrentLinesIntact(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = w.WriteRecord(stream.Record{Stream: "conversation_messages", Data: map[string]any{"n": float64(i)}})
		}(i)
	}
	wg.Wait()

	if got := len(decodeLines(t, &buf)); got != 50 {
		t.Errorf("got %d lines, want 50", got)
	}
}
