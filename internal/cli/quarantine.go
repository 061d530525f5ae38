package cli

import (
	"errors"

	"github.com/shopnow/streamwh/internal/quarantine"
	"github.com/shopnow/streamwh/pkg/types"
	"github.com/spf13/cobra"
)

// QuarantineScanOptions holds flags for the quarantine scan command.
type QuarantineScanOptions struct {
	*RootOptions
	Stream string
	Marker string
	Limit  int
}

// NewQuarantineCommand creates the quarantine command group.
func NewQuarantineCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect quarantined events",
	}
	cmd.AddCommand(NewQuarantineScanCommand(rootOpts))
	return cmd
}

// NewQuarantineScanCommand creates the quarantine scan command.
func NewQuarantineScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QuarantineScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Find quarantined events, newest first",
		Long: `Without --marker, print the most recent quarantined events of a stream.
With --marker, print the newest event carrying that correlation marker.`,
		Example: `  streamwh quarantine scan --stream orders --marker 7f9c
  streamwh quarantine scan --stream clickstream --limit 5`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuarantineScan(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Stream, "stream", "s", "", "stream name")
	cmd.Flags().StringVarP(&opts.Marker, "marker", "m", "", "correlation marker to look for")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "objects examined with --marker, records printed without (0 = all / 20)")
	cmd.MarkFlagRequired("stream")

	return cmd
}

func runQuarantineScan(opts *QuarantineScanOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	s, err := openSession(ctx, opts.RootOptions, cmd.ErrOrStderr(), nil)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	stream := types.StreamKind(opts.Stream)
	p := &printer{format: opts.Format, w: cmd.OutOrStdout()}

	if opts.Marker != "" {
		rec, err := s.app.Quarantine.Scan(ctx, stream, opts.Marker, opts.Limit)
		if errors.Is(err, quarantine.ErrNotFound) {
			return NewExitError(ExitFailure, "no quarantined "+opts.Stream+" event with marker "+opts.Marker)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "quarantine scan failed", err)
		}
		if p.json() {
			return p.ok(rec)
		}
		renderQuarantineRecord(p.w, rec)
		return nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	recs, err := s.app.Quarantine.Recent(ctx, stream, limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "quarantine scan failed", err)
	}
	if p.json() {
		if recs == nil {
			recs = []*types.QuarantineRecord{}
		}
		return p.ok(recs)
	}
	for _, rec := range recs {
		renderQuarantineRecord(p.w, rec)
	}
	return nil
}
