package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Steps  int      `json:"steps"`
	Errors []string `json:"errors,omitempty"`
}

// ScenarioSummary is the outcome of a scenario run.
type ScenarioSummary struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>...",
		Short: "Run conformance scenarios against an in-memory remote",
		Long: `Run YAML scenarios through a replica backed by an in-memory remote and
check every expectation. Directories contribute their *.yaml and *.yml files.`,
		Example: `  tandem scenario internal/harness/testdata/scenarios
  tandem scenario late_delete_is_noop.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *ScenarioOptions, paths []string) error {
	formatter := opts.formatter(cmd)

	scenarios, err := harness.LoadScenarios(paths...)
	if err != nil {
		_ = formatter.Error("LOAD_ERROR", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}

	// Engine logs are noise unless asked for.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	var summary ScenarioSummary
	for _, s := range scenarios {
		formatter.VerboseLog("running %s", s.Name)
		res, err := harness.Run(s, harness.WithLogger(logger))
		if err != nil {
			_ = formatter.Error("RUN_ERROR", err.Error(), map[string]string{"scenario": s.Name})
			return WrapExitError(ExitCommandError, fmt.Sprintf("scenario %s could not run", s.Name), err)
		}
		r := ScenarioResult{Name: s.Name, Pass: res.Pass, Steps: len(s.Steps), Errors: res.Errors}
		summary.Scenarios = append(summary.Scenarios, r)
		if r.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	if formatter.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		printSummary(formatter.Writer, summary)
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", summary.Failed, len(summary.Scenarios)))
	}
	return nil
}

func printSummary(w io.Writer, s ScenarioSummary) {
	for _, r := range s.Scenarios {
		mark := "PASS"
		if !r.Pass {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "%s  %s (%d steps)\n", mark, r.Name, r.Steps)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "      %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed\n", s.Passed, s.Failed)
}
