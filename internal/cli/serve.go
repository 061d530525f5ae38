package cli

import (
	"github.com/shopnow/streamwh/internal/config"
	"github.com/spf13/cobra"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	HTTPAddr string
	GRPCAddr string
	NoGRPC   bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and gRPC health service",
		Long: `Run the engine as a service until SIGINT or SIGTERM.

Events are accepted at POST /v1/streams/{stream}/events and
/v1/streams/{stream}/batch; dimensions, facts and quarantine are
readable under /v1.`,
		Example: `  streamwh serve --data-dir /var/lib/streamwh
  streamwh serve --config /etc/streamwh/config.yaml --http-addr :8081`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc-addr", "", "gRPC health listen address")
	cmd.Flags().BoolVar(&opts.NoGRPC, "no-grpc", false, "disable the gRPC health service")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	s, err := openSession(ctx, opts.RootOptions, cmd.ErrOrStderr(), func(cfg *config.Config) {
		if opts.HTTPAddr != "" {
			cfg.HTTP.Addr = opts.HTTPAddr
		}
		if opts.GRPCAddr != "" {
			cfg.GRPC.Addr = opts.GRPCAddr
		}
		if opts.NoGRPC {
			cfg.GRPC.Enabled = false
		}
	})
	if err != nil {
		return err
	}
	defer s.log.Close()

	if err := s.app.Start(ctx); err != nil {
		s.app.Close(ctx)
		return WrapExitError(ExitCommandError, "failed to start", err)
	}

	s.log.Info().Str("http", s.app.HTTPAddr().String()).Msg("serving")
	if err := s.app.Wait(ctx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", err)
	}
	return nil
}
