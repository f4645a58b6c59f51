package stream

import (
	"fmt"
	"slices"
)

// Propagator derives child sync contexts from parent records.
type Propagator struct {
	// IDField is the parent record field holding the child path id.
	IDField string

	// StatusField and SkipStatuses exclude parents from child syncs.
	StatusField  string
	SkipStatuses []string
}

// DefaultPropagator skips deleted parents and keys children by "id".
func DefaultPropagator() Propagator {
	return Propagator{
		IDField:      "id",
		StatusField:  "status",
		SkipStatuses: []string{"deleted"},
	}
}

// ChildContext returns the context for the parent's child run, or false when
// no child run should happen. The child inherits the bookmark the parent run
// started with, not the parent record's own timestamp.
func (p Propagator) ChildContext(parent Record, parentCtx SyncContext) (SyncContext, bool) {
	if status, ok := parent.Data[p.StatusField].(string); ok && slices.Contains(p.SkipStatuses, status) {
		return SyncContext{}, false
	}

	id := idString(parent.Data[p.IDField])
	if id == "" {
		return SyncContext{}, false
	}

	return SyncContext{
		ParentID: id,
		Bookmark: parentCtx.Bookmark,
	}, true
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}
