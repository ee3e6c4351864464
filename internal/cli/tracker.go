package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/roach88/treesync/internal/tracker"
	"github.com/roach88/treesync/internal/trackerd"
)

type trackerServeOptions struct {
	*RootOptions
	Addr   string
	Token  string
	Rate   float64
	Burst  int
	Prefix string
}

// NewTrackerCommand creates the tracker command group.
func NewTrackerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Local issue tracker for development",
	}
	cmd.AddCommand(newTrackerServeCommand(rootOpts))
	return cmd
}

func newTrackerServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &trackerServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory tracker over the REST API",
		Long: `Serve an in-memory issue tracker speaking the same REST API the sync
engine uses. State is lost on exit.

A request quota (--rate, --burst) makes the tracker answer 429 like a real
one, which exercises the engine's backoff and recovery paths.

Examples:
  treesync tracker serve --addr :8080
  treesync tracker serve --rate 2 --burst 5 --token dev`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrackerServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&opts.Token, "token", "", "require this bearer token")
	cmd.Flags().Float64Var(&opts.Rate, "rate", 0, "requests per second (0 = unlimited)")
	cmd.Flags().IntVar(&opts.Burst, "burst", 10, "request burst size")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "ENG-", "prefix of assigned object numbers")

	return cmd
}

func runTrackerServe(opts *trackerServeOptions, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), slog.LevelInfo, opts.Verbose)

	serverOpts := []trackerd.Option{trackerd.WithLogger(logger)}
	if opts.Token != "" {
		serverOpts = append(serverOpts, trackerd.WithToken(opts.Token))
	}
	if opts.Rate > 0 {
		serverOpts = append(serverOpts, trackerd.WithRateLimit(rate.Limit(opts.Rate), opts.Burst))
	}

	srv := trackerd.New(tracker.NewMemory(tracker.WithNumberPrefix(opts.Prefix)), serverOpts...)
	if err := srv.Serve(cmd.Context(), opts.Addr); err != nil {
		return WrapExitError(ExitFailure, "tracker server failed", err).WithCode(ErrCodeTracker)
	}
	return nil
}
