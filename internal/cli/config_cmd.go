package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the --config file and TANDEM_*
environment overrides have been applied.

Example:
  tandem config --config ./tandem.cue
  TANDEM_BACKEND=redis tandem config --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(cfg)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backend:   %s\n", cfg.Backend)
			fmt.Fprintf(out, "strict:    %t\n", cfg.Strict)
			fmt.Fprintf(out, "log_level: %s\n", cfg.LogLevel)
			fmt.Fprintf(out, "sqlite:    path=%s poll=%s\n", cfg.SQLite.Path, cfg.PollInterval())
			fmt.Fprintf(out, "redis:     url=%s prefix=%s\n", cfg.Redis.URL, cfg.Redis.Prefix)
			fmt.Fprintf(out, "postgres:  url=%s listen=%s\n", cfg.Postgres.URL, cfg.ListenURL())
			return nil
		},
	}
}
