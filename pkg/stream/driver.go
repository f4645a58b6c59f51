package stream

import (
	"context"
	"iter"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/Sternrassler/tap-messagebird/pkg/client"
	"github.com/Sternrassler/tap-messagebird/pkg/extract"
	"github.com/Sternrassler/tap-messagebird/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tap_pages_total",
		Help: "Pages processed by stream",
	}, []string{"stream"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tap_records_total",
		Help: "Records yielded by stream",
	}, []string{"stream"})

	earlyStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tap_early_stops_total",
		Help: "Pagination runs ended by the bookmark early-stop",
	}, []string{"stream"})
)

// PageFetcher performs a single page request.
type PageFetcher interface {
	FetchPage(ctx context.Context, req client.PageRequest) (*client.Response, error)
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger overrides the driver logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// Driver fetches the pages of one resource for one sync context.
type Driver struct {
	desc    Descriptor
	sctx    SyncContext
	path    string
	fetcher PageFetcher
	logger  zerolog.Logger

	consumed atomic.Bool

	mu    sync.Mutex
	stats Stats
}

// NewDriver validates the descriptor and resolves the request path.
func NewDriver(desc Descriptor, sctx SyncContext, fetcher PageFetcher, opts ...Option) (*Driver, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	path, err := desc.ResolvePath(sctx.ParentID)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		desc:    desc,
		sctx:    sctx,
		path:    path,
		fetcher: fetcher,
		logger:  log.With().Str("component", "stream").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("stream", desc.Name).Logger()
	if sctx.ParentID != "" {
		d.logger = d.logger.With().Str("parent_id", sctx.ParentID).Logger()
	}
	return d, nil
}

// Records returns the record sequence. The sequence can be ranged over once;
// any later iteration yields a single ErrDriverConsumed. Fetch and extract
// failures are yielded as *Error and end the sequence.
func (d *Driver) Records(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if !d.consumed.CompareAndSwap(false, true) {
			yield(Record{}, ErrDriverConsumed)
			return
		}
		d.run(ctx, yield)
	}
}

// Stats returns counters for the run so far.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Descriptor returns the driven resource.
func (d *Driver) Descriptor() Descriptor {
	return d.desc
}

func (d *Driver) run(ctx context.Context, yield func(Record, error) bool) {
	paginator, err := d.desc.Pagination.New(d.desc.ReplicationKey, d.sctx.Bookmark)
	if err != nil {
		yield(Record{}, err)
		return
	}

	base := d.desc.BaseParams(d.sctx)

	for page := 1; ; page++ {
		params := paginator.Params(base)

		if err := ctx.Err(); err != nil {
			yield(Record{}, d.wrap(params, page, err))
			return
		}

		resp, err := d.fetcher.FetchPage(ctx, client.PageRequest{
			Stream:  d.desc.Name,
			BaseURL: d.desc.BaseURL,
			Path:    d.path,
			Params:  params,
		})
		if err != nil {
			yield(Record{}, d.wrap(params, page, err))
			return
		}

		records, err := extract.Records(resp.Body, d.desc.RecordsPath)
		if err != nil {
			yield(Record{}, d.wrap(params, page, err))
			return
		}

		d.observePage(len(records))
		d.logger.Debug().
			Int("page", page).
			Int("records", len(records)).
			Msg("Page fetched")

		if page == 1 && len(records) == 0 {
			d.logger.Debug().Msg("No records")
			return
		}

		for _, data := range records {
			if !yield(Record{Stream: d.desc.Name, Data: data}, nil) {
				return
			}
		}

		paginator.Advance(pagination.Page{Body: resp.Body, Records: records})
		if paginator.Finished() {
			d.finish(paginator)
			return
		}
	}
}

func (d *Driver) observePage(records int) {
	pagesTotal.WithLabelValues(d.desc.Name).Inc()
	recordsTotal.WithLabelValues(d.desc.Name).Add(float64(records))

	d.mu.Lock()
	d.stats.Pages++
	d.stats.Records += records
	d.mu.Unlock()
}

func (d *Driver) finish(p pagination.Paginator) {
	stats := d.Stats()
	if es, ok := p.(interface{ EarlyStopped() bool }); ok && es.EarlyStopped() {
		earlyStopsTotal.WithLabelValues(d.desc.Name).Inc()
		d.mu.Lock()
		d.stats.EarlyStopped = true
		d.mu.Unlock()
		d.logger.Info().
			Int("pages", stats.Pages).
			Int("records", stats.Records).
			Msg("Stopped at bookmark")
		return
	}
	d.logger.Debug().
		Int("pages", stats.Pages).
		Int("records", stats.Records).
		Msg("Pagination complete")
}

func (d *Driver) wrap(params url.Values, page int, err error) error {
	return &Error{
		Stream: d.desc.Name,
		Path:   d.path,
		Params: params,
		Page:   page,
		Err:    err,
	}
}
