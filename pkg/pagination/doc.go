// Package pagination decides, page by page, whether a MessageBird listing has
// more results and which query parameters fetch the next page.
//
// Two strategies are provided:
//
//   - LinkPaginator follows an opaque next link returned by the server
//     (links.next on the REST messages API). The link's query string is
//     reused verbatim.
//   - OffsetPaginator walks offset/limit pages using the server's
//     offset/count/totalCount metadata, and stops early once the last record
//     of a page is older than the bookmark.
//
// Paginators are sequential folds over responses: each owns its state, is
// used by exactly one stream run, and never goes back to unfinished once it
// reports Finished.
//
// Example usage:
//
//	p, err := pagination.Spec{Strategy: pagination.StrategyOffset, PageSize: 20}.
//		New("updatedDatetime", bookmark)
//	for !p.Finished() {
//		params := p.Params(base)
//		// fetch with params, extract records...
//		p.Advance(pagination.Page{Body: body, Records: records})
//	}
//
// Malformed or missing pagination metadata ends pagination; it is never an error.
package pagination
