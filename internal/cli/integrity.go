package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// IntegrityOptions holds flags for the integrity command.
type IntegrityOptions struct {
	*RootOptions
	Strict bool
}

// NewIntegrityCommand creates the integrity command.
func NewIntegrityCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IntegrityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Report orphan fact references and products with unknown vendors",
		Long: `Report referential gaps between facts and dimensions. Gaps are expected
while dimension events lag behind facts; use --strict to fail on them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntegrity(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit with code 1 when gaps are found")

	return cmd
}

func runIntegrity(opts *IntegrityOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	s, err := openSession(ctx, opts.RootOptions, cmd.ErrOrStderr(), nil)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	report, err := s.app.Store.Integrity(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "integrity check failed", err)
	}

	p := &printer{format: opts.Format, w: cmd.OutOrStdout()}
	if p.json() {
		if err := p.ok(report); err != nil {
			return err
		}
	} else {
		renderIntegrity(p.w, report)
	}

	if opts.Strict && !report.Clean() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d orphan references, %d products with unknown vendor",
			len(report.OrphanFacts), len(report.UnknownVendorProducts)))
	}
	return nil
}
