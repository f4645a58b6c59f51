package pagination

import (
	"fmt"
	"net/url"
	"time"
)

// Page is one decoded response handed to a Paginator.
type Page struct {
	// Body is the decoded JSON object.
	Body map[string]any

	// Records are the records extracted from Body, in API order.
	Records []map[string]any
}

// Paginator decides continuation and next-request parameters.
type Paginator interface {
	// Params returns the query parameters for the next request. base holds
	// the stream's fixed parameters; implementations never modify it.
	Params(base url.Values) url.Values

	// Advance consumes the response of the request built from Params.
	Advance(page Page)

	// Finished reports whether pagination is complete. Once true it stays true.
	Finished() bool
}

// Strategy names a pagination strategy.
type Strategy string

const (
	StrategyLink   Strategy = "link"
	StrategyOffset Strategy = "offset"
)

// DefaultNextLinkPath is where the REST API puts its next page link.
const DefaultNextLinkPath = "links.next"

// Spec selects and configures a strategy for one stream.
type Spec struct {
	Strategy Strategy

	// PageSize is sent as the limit parameter.
	PageSize int

	// NextLinkPath is the dotted path of the next link (link strategy).
	NextLinkPath string

	// AssumeNewestFirst declares that the API returns records ordered so the
	// last record of a page is the oldest. Bookmark early-stop is only
	// applied when this is set; the ordering is not verified at runtime.
	AssumeNewestFirst bool
}

// New builds a fresh paginator for one stream run.
func (s Spec) New(replicationKey string, bookmark *time.Time) (Paginator, error) {
	switch s.Strategy {
	case StrategyLink:
		return NewLinkPaginator(s.NextLinkPath, s.PageSize), nil
	case StrategyOffset:
		if s.PageSize <= 0 {
			return nil, fmt.Errorf("offset pagination requires a positive page size (got %d)", s.PageSize)
		}
		return NewOffsetPaginator(OffsetConfig{
			PageSize:          s.PageSize,
			ReplicationKey:    replicationKey,
			Bookmark:          bookmark,
			AssumeNewestFirst: s.AssumeNewestFirst,
		}), nil
	default:
		return nil, fmt.Errorf("unknown pagination strategy %q", s.Strategy)
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
