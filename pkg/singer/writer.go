// Package singer writes records and state as Singer messages, one JSON
// object per line.
package singer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Sternrassler/tap-messagebird/pkg/state"
	"github.com/Sternrassler/tap-messagebird/pkg/stream"
	"github.com/goccy/go-json"
)

// Message types.
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// Message is one Singer protocol line.
type Message struct {
	Type               string         `json:"type"`
	Stream             string         `json:"stream,omitempty"`
	Record             map[string]any `json:"record,omitempty"`
	TimeExtracted      string         `json:"time_extracted,omitempty"`
	Schema             map[string]any `json:"schema,omitempty"`
	KeyProperties      []string       `json:"key_properties,omitempty"`
	BookmarkProperties []string       `json:"bookmark_properties,omitempty"`
	Value              any            `json:"value,omitempty"`
}

// Writer serialises messages to an io.Writer. It is safe for concurrent use;
// each message is written as a single line.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewWriter writes messages to out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out, now: time.Now}
}

// WriteSchema announces a stream with a permissive object schema.
func (w *Writer) WriteSchema(streamName string, keyProperties, bookmarkProperties []string) error {
	return w.write(Message{
		Type:               TypeSchema,
		Stream:             streamName,
		Schema:             map[string]any{"type": "object", "additionalProperties": true},
		KeyProperties:      keyProperties,
		BookmarkProperties: bookmarkProperties,
	})
}

// WriteRecord emits one RECORD message. The record data is passed through
// unmodified.
func (w *Writer) WriteRecord(rec stream.Record) error {
	return w.write(Message{
		Type:          TypeRecord,
		Stream:        rec.Stream,
		Record:        rec.Data,
		TimeExtracted: w.now().UTC().Format(time.RFC3339Nano),
	})
}

// WriteState emits a STATE message carrying every bookmark.
func (w *Writer) WriteState(bookmarks map[string]state.Bookmark) error {
	if bookmarks == nil {
		bookmarks = map[string]state.Bookmark{}
	}
	return w.write(Message{
		Type:  TypeState,
		Value: state.Document{Bookmarks: bookmarks},
	})
}

func (w *Writer) write(msg Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(line); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	return nil
}
