package pagination

import (
	"net/url"
	"strconv"

	"github.com/Sternrassler/tap-messagebird/pkg/extract"
)

// LinkPaginator follows a server-provided next page link.
type LinkPaginator struct {
	path     string
	pageSize int

	next     url.Values
	last     string
	finished bool
}

// NewLinkPaginator creates a paginator reading the next link at path
// (DefaultNextLinkPath when empty). A positive pageSize is sent as limit on
// the first request only; later requests use the link as-is.
func NewLinkPaginator(path string, pageSize int) *LinkPaginator {
	if path == "" {
		path = DefaultNextLinkPath
	}
	return &LinkPaginator{path: path, pageSize: pageSize}
}

// Params returns base (plus limit) for the first page and the next link's
// query parameters afterwards, without merging.
func (p *LinkPaginator) Params(base url.Values) url.Values {
	var params url.Values
	if p.next != nil {
		params = cloneValues(p.next)
	} else {
		params = cloneValues(base)
		if p.pageSize > 0 && params.Get("limit") == "" {
			params.Set("limit", strconv.Itoa(p.pageSize))
		}
	}
	p.last = params.Encode()
	return params
}

// Advance reads the next link. A missing, empty or unparseable link, or one
// pointing back at the page just fetched, finishes pagination.
func (p *LinkPaginator) Advance(page Page) {
	if p.finished {
		return
	}

	next, ok := NextLink(page.Body, p.path)
	if !ok {
		p.finish()
		return
	}

	params := next.Query()
	if params.Encode() == p.last {
		p.finish()
		return
	}
	p.next = params
}

// Finished reports whether pagination is complete.
func (p *LinkPaginator) Finished() bool {
	return p.finished
}

func (p *LinkPaginator) finish() {
	p.finished = true
	p.next = nil
}

// NextLink extracts and parses the next page link at path.
func NextLink(body map[string]any, path string) (*url.URL, bool) {
	raw, ok := extract.Lookup(body, path)
	if !ok {
		return nil, false
	}
	link, ok := raw.(string)
	if !ok || link == "" {
		return nil, false
	}
	u, err := url.Parse(link)
	if err != nil {
		return nil, false
	}
	return u, true
}
