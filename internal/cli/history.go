package cli

import (
	"github.com/shopnow/streamwh/pkg/types"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <vendor|product> <business-id>",
		Short: "Show every version of a dimension member",
		Example: `  streamwh history vendor SHOPNOW
  streamwh history product p-100 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, cmd, args)
		},
	}
}

func runHistory(opts *RootOptions, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dim, err := types.ParseDimension(args[0])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid dimension", err)
	}
	id := args[1]

	s, err := openSession(ctx, opts, cmd.ErrOrStderr(), nil)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	history, err := s.app.Syncer.History(ctx, dim, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	if len(history) == 0 {
		return NewExitError(ExitFailure, "no versions of "+string(dim)+" "+id)
	}

	p := &printer{format: opts.Format, w: cmd.OutOrStdout()}
	if p.json() {
		return p.ok(history)
	}
	renderHistory(p.w, dim, id, history)
	return nil
}
