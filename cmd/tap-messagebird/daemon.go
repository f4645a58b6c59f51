package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/tap-messagebird/pkg/config"
	"github.com/Sternrassler/tap-messagebird/pkg/logging"
	"github.com/Sternrassler/tap-messagebird/pkg/metrics"
	"github.com/Sternrassler/tap-messagebird/pkg/tap"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func (a *app) daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run syncs on a schedule and serve health and metrics",
		Long: `Run sync on a cron schedule (default "@every 1h"). A run that is
still in progress when the next one is due is skipped.

Endpoints:
  GET /health   liveness
  GET /status   last run outcome as JSON
  GET /metrics  Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			d := newDaemon(a.cfg, a.logger, func(ctx context.Context) (*tap.Summary, error) {
				return runSync(ctx, a.cfg, a.out)
			})
			return d.Run(cmd.Context())
		},
	}
	addSyncFlags(cmd)
	cmd.Flags().String("schedule", "", `cron spec or descriptor, e.g. "*/30 * * * *" or "@every 15m"`)
	cmd.Flags().String("addr", "", "listen address for /health, /status and /metrics")
	return cmd
}

// runStatus is the outcome of the most recent sync.
type runStatus struct {
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Records    int64     `json:"records"`
	Error      string    `json:"error,omitempty"`
}

type daemon struct {
	cfg    *config.Config
	logger zerolog.Logger
	syncFn func(context.Context) (*tap.Summary, error)

	running atomic.Bool
	wg      sync.WaitGroup
	mu      sync.RWMutex
	last    *runStatus
}

func newDaemon(cfg *config.Config, logger zerolog.Logger, syncFn func(context.Context) (*tap.Summary, error)) *daemon {
	return &daemon{
		cfg:    cfg,
		logger: logger.With().Str("component", "daemon").Logger(),
		syncFn: syncFn,
	}
}

// Run blocks until ctx is cancelled, then waits for an in-flight sync.
func (d *daemon) Run(ctx context.Context) error {
	cronLog := logging.CronLogger{Logger: d.logger}
	scheduler := cron.New(cron.WithLogger(cronLog), cron.WithChain(
		cron.Recover(cronLog),
		cron.SkipIfStillRunning(cronLog),
	))
	if _, err := scheduler.AddFunc(d.cfg.Daemon.Schedule, func() { d.runOnce(ctx) }); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              d.cfg.Daemon.Addr,
		Handler:           d.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		d.logger.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if d.cfg.Daemon.RunOnStart {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runOnce(ctx)
		}()
	}
	scheduler.Start()
	d.logger.Info().Str("schedule", d.cfg.Daemon.Schedule).Msg("Daemon started")

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErr:
	}

	d.logger.Info().Msg("Daemon stopping")
	<-scheduler.Stop().Done()
	d.wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

// runOnce runs a sync unless one is already in progress.
func (d *daemon) runOnce(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		d.logger.Warn().Msg("Sync still running, skipping")
		return
	}
	defer d.running.Store(false)

	status := &runStatus{StartedAt: time.Now().UTC()}
	summary, err := d.syncFn(ctx)
	status.FinishedAt = time.Now().UTC()
	if summary != nil {
		status.RunID = summary.RunID
		for _, s := range summary.Streams {
			status.Records += s.Records
		}
	}
	if err != nil {
		status.Error = err.Error()
		d.logger.Error().Err(err).Str("run_id", status.RunID).Msg("Scheduled sync failed")
	}

	d.mu.Lock()
	d.last = status
	d.mu.Unlock()
}

func (d *daemon) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/status", d.statusHandler)
	r.Handle("/metrics", metrics.Handler())
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (d *daemon) statusHandler(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	last := d.last
	d.mu.RUnlock()

	body := map[string]any{
		"running":  d.running.Load(),
		"schedule": d.cfg.Daemon.Schedule,
		"last_run": last,
	}

	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	if last != nil && last.Error != "" {
		status = http.StatusServiceUnavailable
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
