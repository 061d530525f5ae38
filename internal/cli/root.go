// Package cli implements the streamwh command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/shopnow/streamwh/internal/app"
	"github.com/shopnow/streamwh/internal/config"
	"github.com/shopnow/streamwh/internal/logging"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	DataDir    string
	StoreType  string
	LogLevel   string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the streamwh CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "streamwh",
		Short: "streamwh - event classification and SCD2 historization engine",
		Long: "Validates marketplace events, historizes vendor and product dimensions,\n" +
			"writes immutable facts and quarantines everything that fails validation.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.EnvFile != "" {
				if err := godotenv.Load(opts.EnvFile); err != nil {
					return WrapExitError(ExitCommandError, "failed to load env file", err)
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to configuration file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file loaded before STREAMWH_ variables are read")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "base directory for the store and local quarantine")
	cmd.PersistentFlags().StringVar(&opts.StoreType, "store", "", "store type (sqlite|memory)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewQuarantineCommand(opts))
	cmd.AddCommand(NewIntegrityCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig builds the configuration from file, environment and flags, in
// increasing order of priority.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if opts.ConfigPath != "" {
		cfg, err = config.LoadFromFile(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.StoreType != "" {
		cfg.Store.Type = opts.StoreType
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	return cfg, nil
}

// session is an engine opened for the lifetime of one command.
type session struct {
	app *app.App
	log *logging.Logger
}

// openSession loads the configuration and builds the engine. Logs go to
// errOut so they never mix with command output.
func openSession(ctx context.Context, opts *RootOptions, errOut io.Writer, mutate func(*config.Config)) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger, err := logging.New().
		ToWriter(errOut).
		Level(cfg.Log.Level).
		Format(cfg.Log.Format).
		Make()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}

	a, err := app.New(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open engine", err)
	}
	return &session{app: a, log: logger}, nil
}

func (s *session) Close(ctx context.Context) error {
	err := s.app.Close(ctx)
	s.log.Close()
	return err
}
