package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shopnow/streamwh/internal/engine"
	"github.com/shopnow/streamwh/pkg/types"
	"github.com/spf13/cobra"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Stream  string
	Verbose bool
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Process newline-delimited events of one stream",
		Long: `Process newline-delimited JSON events in order. Events are read from
file, or from standard input when file is omitted or "-".

Exits with code 1 when any event was dropped or failed.`,
		Example: `  streamwh ingest --stream vendors vendors.jsonl
  cat orders.jsonl | streamwh ingest --stream orders --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd, args)
		},
	}

	cmd.Flags().StringVarP(&opts.Stream, "stream", "s", "", "stream name (orders|clickstream|vendors|products)")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "print the outcome of every event")
	cmd.MarkFlagRequired("stream")

	return cmd
}

// ingestResult is the JSON payload of the ingest command.
type ingestResult struct {
	Stream   types.StreamKind  `json:"stream"`
	Summary  engine.Summary    `json:"summary"`
	Outcomes []*engine.Outcome `json:"outcomes,omitempty"`
}

func runIngest(opts *IngestOptions, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		in = f
	}

	s, err := openSession(ctx, opts.RootOptions, cmd.ErrOrStderr(), nil)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	p := &printer{format: opts.Format, w: cmd.OutOrStdout()}
	stream := types.StreamKind(opts.Stream)
	res := ingestResult{Stream: stream}

	sum, err := s.app.Engine.Ingest(ctx, stream, in, func(o *engine.Outcome) {
		if !opts.Verbose {
			return
		}
		if p.json() {
			res.Outcomes = append(res.Outcomes, o)
			return
		}
		line, _ := json.Marshal(o)
		fmt.Fprintln(p.w, string(line))
	})
	res.Summary = sum
	if err != nil {
		return WrapExitError(ExitCommandError, "ingest interrupted", err)
	}

	if p.json() {
		if err := p.ok(res); err != nil {
			return err
		}
	} else {
		renderSummary(p.w, stream, sum)
	}

	if bad := sum.Dropped + sum.Failed; bad > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d events were not stored or quarantined", bad, sum.Total))
	}
	return nil
}
