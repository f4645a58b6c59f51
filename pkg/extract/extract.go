// Package extract pulls the record list out of a decoded API response body.
package extract

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotArray is returned when the value at the records path is not a list.
var ErrNotArray = errors.New("records path does not point to an array")

// Lookup walks a dot-separated path ("links.next", "items") into nested
// objects. The second return value is false when any segment is missing.
// An empty path returns the body itself.
func Lookup(body map[string]any, path string) (any, bool) {
	var current any = body
	if path == "" {
		return current, true
	}
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Records returns the objects found in the array at path, in body order.
// A missing or null path yields no records. Non-object array elements are
// skipped.
func Records(body map[string]any, path string) ([]map[string]any, error) {
	raw, ok := Lookup(body, path)
	if !ok || raw == nil {
		return nil, nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %T", ErrNotArray, path, raw)
	}

	records := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records, nil
}
