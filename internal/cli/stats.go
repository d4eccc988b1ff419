package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/entity"
	sessionpkg "github.com/roach88/tandem/internal/session"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Scope string
	Days  int
	Since string
}

// StatsReport is the printed form of the statistics.
type StatsReport struct {
	Scope   string              `json:"scope"`
	Daily   []entity.DailyStats `json:"daily"`
	Overall entity.OverallStats `json:"overall"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize a pairing's recent activity",
		Long: `Load the journal, habit, goal and transaction replicas of a pairing and
print per-day figures for the last --days days together with window totals.`,
		Example: `  tandem stats --scope pair-1
  tandem stats --scope pair-1 --days 30 --since 2023-06-01 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Scope, "scope", "", "pairing id")
	cmd.Flags().IntVar(&opts.Days, "days", 7, "window length in days")
	cmd.Flags().StringVar(&opts.Since, "since", "", "day the pairing was formed (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("scope")

	return cmd
}

func runStats(cmd *cobra.Command, opts *StatsOptions) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	if opts.Days < 1 {
		return NewExitError(ExitCommandError, "--days must be at least 1")
	}
	var since time.Time
	if opts.Since != "" {
		t, err := time.Parse(entity.DateLayout, opts.Since)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --since", err)
		}
		since = t
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.newLogger(cmd.ErrOrStderr(), cfg)
	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open backend", err)
	}
	defer backend.Close()

	engineOpts := []engine.EngineOption{engine.WithLogger(logger), engine.WithStrict(cfg.Strict)}
	journal, err := engine.New(entity.JournalEntries, gatewayFor(backend, entity.JournalEntries), engineOpts...)
	if err != nil {
		return err
	}
	completions, err := engine.New(entity.HabitCompletions, gatewayFor(backend, entity.HabitCompletions), engineOpts...)
	if err != nil {
		return err
	}
	habits, err := engine.New(entity.Habits, gatewayFor(backend, entity.Habits), engineOpts...)
	if err != nil {
		return err
	}
	goals, err := engine.New(entity.Goals, gatewayFor(backend, entity.Goals), engineOpts...)
	if err != nil {
		return err
	}
	transactions, err := engine.New(entity.Transactions, gatewayFor(backend, entity.Transactions), engineOpts...)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, r := range []runner{journal, completions, habits, goals, transactions} {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("engine error", "error", err)
			}
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	binder := engine.NewBinder(journal, completions, habits, goals, transactions)
	sess := sessionpkg.Session{
		UserID:  "cli",
		Pairing: &sessionpkg.Pairing{ID: opts.Scope, Status: sessionpkg.StatusActive},
	}
	if err := binder.Apply(ctx, sess); err != nil {
		return failure(formatter, fmt.Sprintf("failed to load %s", opts.Scope), err)
	}

	daily, overall := entity.Statistics(entity.StatsInput{
		Journal:      journal.List(),
		Completions:  completions.List(),
		Habits:       habits.List(),
		Goals:        goals.List(),
		Transactions: transactions.List(),
		PairedSince:  since,
	}, time.Now(), opts.Days)

	report := StatsReport{Scope: opts.Scope, Daily: daily, Overall: overall}
	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	printStats(formatter.Writer, report)
	return nil
}

type runner interface {
	Run(ctx context.Context) error
}

func printStats(w io.Writer, r StatsReport) {
	fmt.Fprintf(w, "%s, last %d day(s)\n", r.Scope, len(r.Daily))
	fmt.Fprintln(w, "DATE        MOOD  HABITS  GOALS  TXNS")
	for _, d := range r.Daily {
		fmt.Fprintf(w, "%s  %3d%%  %6d  %4d%%  %4d\n", d.Date, d.MoodScore, d.HabitsCompleted, d.GoalsProgress, d.Transactions)
	}
	o := r.Overall
	fmt.Fprintf(w, "\njournal entries: %d (avg mood %d%%)\n", o.JournalEntries, o.AvgMoodScore)
	fmt.Fprintf(w, "habits completed: %d\n", o.HabitsCompleted)
	fmt.Fprintf(w, "goals completed: %d\n", o.GoalsCompleted)
	fmt.Fprintf(w, "transactions: %d\n", o.Transactions)
	fmt.Fprintf(w, "days together: %d\n", o.DaysTogether)
}

