package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

type mutationKind string

const (
	mutationCreate mutationKind = "create"
	mutationUpdate mutationKind = "update"
	mutationDelete mutationKind = "delete"
)

// DefaultSettle bounds how long a mutation command waits for the remote to
// confirm a create.
const DefaultSettle = 2 * time.Second

// MutationOptions holds flags for create, update and delete.
type MutationOptions struct {
	*RootOptions
	ReplicaFlags
	Key    string
	Data   string
	Settle time.Duration
}

// NewMutationCommand creates the command for one mutation kind.
func NewMutationCommand(rootOpts *RootOptions, kind mutationKind) *cobra.Command {
	opts := &MutationOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           string(kind),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(cmd, opts, kind)
		},
	}

	switch kind {
	case mutationCreate:
		cmd.Short = "Create a record in a pairing"
		cmd.Example = `  tandem create --kind habits --scope pair-1 --data '{"name":"Run","frequency":"daily"}'`
	case mutationUpdate:
		cmd.Short = "Change fields of a record"
		cmd.Long = "Merge the JSON object given by --data over the record's current fields."
		cmd.Example = `  tandem update --kind goals --scope pair-1 --key srv-1 --data '{"current_amount":5000}'`
	case mutationDelete:
		cmd.Short = "Delete a record"
		cmd.Example = `  tandem delete --kind messages --scope pair-1 --key srv-3`
	}

	opts.ReplicaFlags.register(cmd)
	cmd.Flags().DurationVar(&opts.Settle, "settle", DefaultSettle, "how long to wait for the remote to confirm")
	if kind != mutationCreate {
		cmd.Flags().StringVar(&opts.Key, "key", "", "record key")
		_ = cmd.MarkFlagRequired("key")
	}
	if kind != mutationDelete {
		cmd.Flags().StringVar(&opts.Data, "data", "", "record fields as a JSON object")
		_ = cmd.MarkFlagRequired("data")
	}

	return cmd
}

func runMutation(cmd *cobra.Command, opts *MutationOptions, kind mutationKind) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	s, err := openSession(ctx, opts.RootOptions, opts.ReplicaFlags, cmd)
	if err != nil {
		return failure(formatter, fmt.Sprintf("%s failed", kind), err)
	}
	defer s.Close()

	key := opts.Key
	before := s.replica.Keys()
	switch kind {
	case mutationCreate:
		key, err = s.replica.Create(ctx, []byte(opts.Data))
	case mutationUpdate:
		err = s.replica.Update(ctx, key, []byte(opts.Data))
	case mutationDelete:
		err = s.replica.Delete(ctx, key)
	}
	if err != nil {
		return failure(formatter, fmt.Sprintf("%s failed", kind), err)
	}
	s.logger.Debug("mutation applied", "op", string(kind), "key", key)

	s.settle(ctx, opts.Settle)
	if kind == mutationCreate {
		key = confirmedKey(before, s.replica.Keys(), key)
	}

	v, err := s.view(opts.ReplicaFlags, key)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read replica", err)
	}
	return printView(formatter, v)
}

// confirmedKey returns the key a create ended up under: the temporary key
// while it is still pending, else the one key that was not there before.
func confirmedKey(before, after []string, temp string) string {
	if slices.Contains(after, temp) {
		return temp
	}
	for _, k := range after {
		if !slices.Contains(before, k) {
			return k
		}
	}
	return temp
}
