package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/engine"
)

// ReplicaFlags selects the replica a command works on.
type ReplicaFlags struct {
	Kind  string
	Scope string
}

func (f *ReplicaFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Kind, "kind", "", "entity kind (see 'tandem kinds')")
	cmd.Flags().StringVar(&f.Scope, "scope", "", "pairing id to bind")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("scope")
}

// ReplicaView is the printed form of a replica.
type ReplicaView struct {
	Kind    string           `json:"kind"`
	Scope   string           `json:"scope"`
	Key     string           `json:"key,omitempty"`
	Stale   bool             `json:"stale,omitempty"`
	Pending int              `json:"pending,omitempty"`
	Records []map[string]any `json:"records"`
}

// session is a running replica bound to a scope.
type session struct {
	replica Replica
	backend *Backend
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// openSession connects to the configured backend, starts the engine and
// binds it to flags.Scope.
func openSession(ctx context.Context, opts *RootOptions, flags ReplicaFlags, cmd *cobra.Command, engineOpts ...engine.EngineOption) (*session, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := opts.newLogger(cmd.ErrOrStderr(), cfg)

	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open backend", err)
	}
	replica, err := NewReplica(backend, flags.Kind, engineOpts...)
	if err != nil {
		backend.Close()
		return nil, WrapExitError(ExitCommandError, "invalid kind", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		replica: replica,
		backend: backend,
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := replica.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine error", "error", err)
		}
	}()

	if err := replica.Bind(ctx, flags.Scope); err != nil {
		s.Close()
		return nil, WrapExitError(ExitFailure, fmt.Sprintf("failed to load %s for %s", flags.Kind, flags.Scope), err)
	}
	return s, nil
}

// Close stops the engine and releases the backend.
func (s *session) Close() {
	s.cancel()
	<-s.done
	if err := s.backend.Close(); err != nil {
		s.logger.Error("error closing backend", "error", err)
	}
}

// settle waits for pending creates to resolve, up to timeout, then for the
// engine to process what it has received.
func (s *session) settle(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for s.replica.Status().Pending > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
	if s.replica.Status().Pending > 0 {
		s.logger.Warn("pending creates not yet confirmed", "pending", s.replica.Status().Pending)
	}
	_ = s.replica.Flush(ctx)
}

func (s *session) view(flags ReplicaFlags, key string) (ReplicaView, error) {
	records, err := s.replica.Records()
	if err != nil {
		return ReplicaView{}, err
	}
	status := s.replica.Status()
	return ReplicaView{
		Kind:    flags.Kind,
		Scope:   flags.Scope,
		Key:     key,
		Stale:   status.Stale,
		Pending: status.Pending,
		Records: records,
	}, nil
}

// printView writes a replica: one JSON object per record in text mode, a
// single response in json mode.
func printView(f *OutputFormatter, v ReplicaView) error {
	if f.Format == "json" {
		return f.Success(v)
	}
	header := fmt.Sprintf("%s @ %s: %d record(s)", v.Kind, v.Scope, len(v.Records))
	if v.Stale {
		header += " [stale]"
	}
	if v.Pending > 0 {
		header += fmt.Sprintf(" [%d pending]", v.Pending)
	}
	fmt.Fprintln(f.Writer, header)
	for _, r := range v.Records {
		line, err := marshalLine(r)
		if err != nil {
			return err
		}
		fmt.Fprintf(f.Writer, "  %s\n", line)
	}
	return nil
}

// failure reports a sync error in the configured format and wraps it.
func failure(f *OutputFormatter, message string, err error) error {
	if f.Format == "json" {
		code := string(engine.CodeOf(err))
		if code == "" {
			code = "ERROR"
		}
		_ = f.Error(code, err.Error(), nil)
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return WrapExitError(ExitFailure, message, err)
}
