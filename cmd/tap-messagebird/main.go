// Command tap-messagebird extracts MessageBird conversations and messages
// as a Singer stream on stdout.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/tap-messagebird/pkg/config"
	"github.com/Sternrassler/tap-messagebird/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds state shared by the subcommands.
type app struct {
	configPath string
	out        io.Writer
	cfg        *config.Config
	logger     zerolog.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out, logger: logging.Setup(logging.DefaultConfig())}

	root := &cobra.Command{
		Use:           "tap-messagebird",
		Short:         "Extract MessageBird conversations and messages as a Singer stream",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("TAP_MESSAGEBIRD_CONFIG"), "config file (YAML or JSON)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("pretty", false, "human-readable logs on stderr")

	root.AddCommand(a.syncCmd())
	root.AddCommand(a.daemonCmd())
	root.AddCommand(a.streamsCmd())

	return root
}

// load reads the configuration with cmd's flags bound and configures logging.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.Setup(cfg.LoggingConfig())

	redacted := cfg.Redacted()
	a.logger.Debug().
		Interface("config", redacted).
		Msg("Configuration loaded")
	return nil
}

// addSyncFlags registers the flags shared by sync and daemon.
func addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().String("api-key", "", "MessageBird access key (prefer TAP_MESSAGEBIRD_API_KEY)")
	cmd.Flags().String("start-date", "", "earliest record date for a first sync (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringSlice("stream", nil, "streams to sync (repeatable; default all)")
	cmd.Flags().String("state-backend", "", "bookmark backend: memory, file, redis, sqlite, postgres")
	cmd.Flags().String("state-path", "", "state file or sqlite database path")
}
