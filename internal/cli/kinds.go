package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/entity"
)

// KindInfo describes one entity kind.
type KindInfo struct {
	Name     string `json:"name"`
	Ordering string `json:"ordering"`
}

// NewKindsCommand creates the kinds command.
func NewKindsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "kinds",
		Short:         "List entity kinds",
		Long:          "List the entity kinds a replica can hold and the order records are shown in.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listKinds(rootOpts, cmd)
		},
	}
}

func listKinds(opts *RootOptions, cmd *cobra.Command) error {
	var kinds []KindInfo
	for _, name := range entity.Names() {
		ordering, err := entity.Ordering(name)
		if err != nil {
			return err
		}
		kinds = append(kinds, KindInfo{Name: name, Ordering: ordering})
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(kinds)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tORDER")
	for _, k := range kinds {
		fmt.Fprintf(w, "%s\t%s\n", k.Name, k.Ordering)
	}
	return w.Flush()
}
