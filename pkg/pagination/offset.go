package pagination

import (
	"math"
	"net/url"
	"strconv"
	"time"
)

// OffsetConfig configures an OffsetPaginator.
type OffsetConfig struct {
	// PageSize is the requested limit; the next offset advances by it.
	PageSize int

	// ReplicationKey is the record field compared against Bookmark.
	ReplicationKey string

	// Bookmark enables early-stop when set together with AssumeNewestFirst.
	Bookmark *time.Time

	// AssumeNewestFirst: see Spec.AssumeNewestFirst.
	AssumeNewestFirst bool
}

// OffsetPaginator walks offset/limit pages.
type OffsetPaginator struct {
	cfg OffsetConfig

	offset       int
	finished     bool
	earlyStopped bool
}

// NewOffsetPaginator creates a paginator starting at offset 0.
func NewOffsetPaginator(cfg OffsetConfig) *OffsetPaginator {
	return &OffsetPaginator{cfg: cfg}
}

// Params returns base plus offset and limit.
func (p *OffsetPaginator) Params(base url.Values) url.Values {
	params := cloneValues(base)
	params.Set("offset", strconv.Itoa(p.offset))
	params.Set("limit", strconv.Itoa(p.cfg.PageSize))
	return params
}

// Advance applies the server continuation signal and the bookmark early-stop.
func (p *OffsetPaginator) Advance(page Page) {
	if p.finished {
		return
	}

	offset, ok1 := intField(page.Body, "offset")
	count, ok2 := intField(page.Body, "count")
	total, ok3 := intField(page.Body, "totalCount")
	if !ok1 || !ok2 || !ok3 {
		p.finished = true
		return
	}

	if p.stopEarly(page.Records) {
		p.finished = true
		p.earlyStopped = true
		return
	}

	if !HasMore(offset, count, total) {
		p.finished = true
		return
	}

	next := offset + p.cfg.PageSize
	if next <= p.offset {
		// the server echoed an offset behind our cursor; refuse to loop
		p.finished = true
		return
	}
	p.offset = next
}

// Finished reports whether pagination is complete.
func (p *OffsetPaginator) Finished() bool {
	return p.finished
}

// EarlyStopped reports whether pagination ended because of the bookmark.
func (p *OffsetPaginator) EarlyStopped() bool {
	return p.earlyStopped
}

// Offset returns the offset the next request will use.
func (p *OffsetPaginator) Offset() int {
	return p.offset
}

func (p *OffsetPaginator) stopEarly(records []map[string]any) bool {
	if p.cfg.Bookmark == nil || !p.cfg.AssumeNewestFirst || p.cfg.ReplicationKey == "" || len(records) == 0 {
		return false
	}
	older, known := OlderThanBookmark(records[len(records)-1], p.cfg.ReplicationKey, *p.cfg.Bookmark)
	return known && older
}

// HasMore is the server-driven continuation signal: records remain beyond
// offset+count. An empty page never has more.
func HasMore(offset, count, totalCount int) bool {
	return count > 0 && offset+count < totalCount
}

// OlderThanBookmark compares the record's replication value with the bookmark
// at UTC date granularity. known is false when the field is absent or not a
// parseable timestamp; callers must then keep paging.
func OlderThanBookmark(record map[string]any, key string, bookmark time.Time) (older, known bool) {
	ts, ok := ReplicationValue(record, key)
	if !ok {
		return false, false
	}
	return TruncateToDate(ts).Before(TruncateToDate(bookmark)), true
}

// ReplicationValue reads and parses record[key] as a timestamp.
func ReplicationValue(record map[string]any, key string) (time.Time, bool) {
	raw, ok := record[key]
	if !ok {
		return time.Time{}, false
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses RFC 3339 timestamps (fractional seconds optional),
// zone-less timestamps (taken as UTC) and plain dates.
func ParseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var ts time.Time
		if ts, err = time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, err
}

// TruncateToDate returns midnight UTC of t's UTC calendar date.
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intField(body map[string]any, key string) (int, bool) {
	switch v := body[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}
