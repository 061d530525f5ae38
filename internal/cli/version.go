package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Format == "json" {
				p := &printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
				return p.ok(map[string]string{"version": Version, "commit": Commit})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "streamwh version %s (commit: %s)\n", Version, Commit)
			return nil
		},
	}
}
