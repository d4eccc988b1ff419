package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/engine"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	ReplicaFlags
	Once bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a pairing's records as they change",
		Long: `Bind a replica to a pairing and print its records after every change
until interrupted. With --once the replica is printed after the initial load.`,
		Example: `  tandem watch --kind habits --scope pair-1
  tandem watch --kind goals --scope pair-1 --once --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	opts.ReplicaFlags.register(cmd)
	cmd.Flags().BoolVar(&opts.Once, "once", false, "print the initial load and exit")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	formatter := opts.formatter(cmd)

	// Change handlers run on the engine loop, so they only signal.
	changed := make(chan struct{}, 1)
	onChange := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	failed := make(chan error, 8)
	onError := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	s, err := openSession(ctx, opts.RootOptions, opts.ReplicaFlags, cmd,
		engine.WithChangeHandler(onChange),
		engine.WithErrorHandler(onError),
	)
	if err != nil {
		return failure(formatter, "watch failed", err)
	}
	defer s.Close()

	show := func() error {
		v, err := s.view(opts.ReplicaFlags, "")
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read replica", err)
		}
		return printView(formatter, v)
	}

	if err := show(); err != nil {
		return err
	}
	if opts.Once {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			s.logger.Warn("sync error", "code", engine.CodeOf(err), "error", err)
		case <-changed:
			if err := show(); err != nil {
				return err
			}
		}
	}
}

