// Package stream turns a resource descriptor and a sync context into a lazy
// sequence of records, one page at a time.
package stream

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/tap-messagebird/pkg/pagination"
)

// ParentIDPlaceholder is substituted with the escaped parent id in child paths.
const ParentIDPlaceholder = "{parent_id}"

// Descriptor is the static definition of one API resource.
type Descriptor struct {
	// Name is the stream name emitted with every record.
	Name string

	BaseURL string

	// Path may contain ParentIDPlaceholder for child resources.
	Path string

	PrimaryKeys []string

	// ReplicationKey names the record timestamp used for bookmarks.
	// Empty means full-table replication.
	ReplicationKey string

	// Parent is the name of the parent resource, empty for top-level resources.
	Parent string

	// RecordsPath is the dotted path of the record array in a response body.
	RecordsPath string

	// Params are fixed query parameters sent with the first request.
	Params url.Values

	// StartParam carries the bookmark (RFC 3339) as a query parameter when set.
	StartParam string

	Pagination pagination.Spec
}

// Validate checks the descriptor for construction errors.
func (d Descriptor) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.BaseURL == "" {
		errs = append(errs, errors.New("base url is required"))
	} else if _, err := url.Parse(d.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("base url: %w", err))
	}
	if !strings.HasPrefix(d.Path, "/") {
		errs = append(errs, fmt.Errorf("path %q must start with /", d.Path))
	}
	if d.IsChild() != strings.Contains(d.Path, ParentIDPlaceholder) {
		errs = append(errs, fmt.Errorf("path %q and parent %q disagree", d.Path, d.Parent))
	}
	if d.RecordsPath == "" {
		errs = append(errs, errors.New("records path is required"))
	}
	switch d.Pagination.Strategy {
	case pagination.StrategyLink:
	case pagination.StrategyOffset:
		if d.Pagination.PageSize <= 0 {
			errs = append(errs, fmt.Errorf("page size must be positive (got %d)", d.Pagination.PageSize))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown pagination strategy %q", d.Pagination.Strategy))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("descriptor %q: %w", d.Name, err)
	}
	return nil
}

// IsChild reports whether the resource is fetched per parent record.
func (d Descriptor) IsChild() bool {
	return d.Parent != ""
}

// ResolvePath substitutes the parent id into the path template.
func (d Descriptor) ResolvePath(parentID string) (string, error) {
	if !strings.Contains(d.Path, ParentIDPlaceholder) {
		return d.Path, nil
	}
	if parentID == "" {
		return "", fmt.Errorf("stream %s: path %s requires a parent id", d.Name, d.Path)
	}
	return strings.ReplaceAll(d.Path, ParentIDPlaceholder, url.PathEscape(parentID)), nil
}

// BaseParams returns a fresh copy of the fixed params plus the start param.
func (d Descriptor) BaseParams(sctx SyncContext) url.Values {
	params := make(url.Values, len(d.Params)+1)
	for k, vals := range d.Params {
		params[k] = append([]string(nil), vals...)
	}
	if d.StartParam != "" && sctx.Bookmark != nil {
		params.Set(d.StartParam, sctx.Bookmark.UTC().Format(time.RFC3339))
	}
	return params
}

// WithPageSize returns a copy with a different page size. Non-positive sizes
// leave the descriptor unchanged.
func (d Descriptor) WithPageSize(size int) Descriptor {
	if size > 0 {
		d.Pagination.PageSize = size
	}
	return d
}

// WithEarlyStop returns a copy with early-stop forced off when enabled is false.
func (d Descriptor) WithEarlyStop(enabled bool) Descriptor {
	if !enabled {
		d.Pagination.AssumeNewestFirst = false
	}
	return d
}
