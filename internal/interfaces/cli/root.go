// Package cli implements the kmatch command line client.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/KidneyMatch/internal/config"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/pkg/client"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// serverEnv overrides the server address when --server is not given.
const serverEnv = "KMATCH_SERVER"

type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration
	ServerAddr   string
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Logger       logging.Logger
	Client       *client.Client
	OutputFormat string
	Timeout      time.Duration
}

// NewRootCommand creates the root command with its global flags and every
// subcommand.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "kmatch",
		Short: "KidneyMatch CLI: kidney offer acceptance predictions and donor similarity",
		Long: "kmatch talks to a KidneyMatch API server.  It scores donor records under the\n" +
			"registered acceptance models, ranks historical offers by similarity to a donor\n" +
			"and manages the per-city reference populations.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "server config file, used to derive the server address")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "text", "output format (text, json, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")
	pf.DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "overall timeout per command")
	pf.StringVar(&opts.ServerAddr, "server", "", "API server address (default: $"+serverEnv+" or http://localhost:8080)")

	cmd.AddCommand(
		NewModelsCmd(),
		NewPredictCmd(),
		NewSimilarCmd(),
		NewCompareCmd(),
		NewEmbedCmd(),
		NewReferenceCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	switch opts.OutputFormat {
	case "text", "json", "table":
	default:
		return apperrors.Newf(apperrors.ErrCodeBadRequest, "unknown output format %q", opts.OutputFormat)
	}

	logger, err := initLogger(opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	addr, err := resolveServer(opts, logger)
	if err != nil {
		return err
	}
	apiClient, err := client.NewClient(addr,
		client.WithTimeout(opts.Timeout),
		client.WithLogger(sdkLogger{logger}),
		client.WithUserAgent("kmatch-cli/"+Version),
	)
	if err != nil {
		return fmt.Errorf("invalid server address %q: %w", addr, err)
	}

	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, &CLIContext{
		Logger:       logger,
		Client:       apiClient,
		OutputFormat: opts.OutputFormat,
		Timeout:      opts.Timeout,
	}))
	return nil
}

func initLogger(opts *RootOptions) (logging.Logger, error) {
	level := logging.LogLevel(opts.LogLevel)
	if opts.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// resolveServer picks the server address: --server, then $KMATCH_SERVER,
// then the listen address of the config file, then localhost.
func resolveServer(opts *RootOptions, logger logging.Logger) (string, error) {
	if opts.ServerAddr != "" {
		return opts.ServerAddr, nil
	}
	if env := os.Getenv(serverEnv); env != "" {
		return env, nil
	}
	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return "", fmt.Errorf("config initialization failed: %w", err)
		}
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		logger.Debug("server address taken from config", logging.String("config", opts.ConfigPath))
		return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port), nil
	}
	return "http://localhost:8080", nil
}

// GetCLIContext extracts the CLIContext set by the root command.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "CLIContext not found in command context")
	}
	return cliCtx, nil
}

// commandContext bounds one command by the --timeout flag.
func (c *CLIContext) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), c.Timeout)
}

// Execute runs the CLI and reports any error on stderr.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// sdkLogger adapts the structured logger to the SDK's printf-style logger.
type sdkLogger struct {
	l logging.Logger
}

func (s sdkLogger) Debugf(format string, args ...interface{}) { s.l.Debug(fmt.Sprintf(format, args...)) }
func (s sdkLogger) Infof(format string, args ...interface{})  { s.l.Info(fmt.Sprintf(format, args...)) }
func (s sdkLogger) Errorf(format string, args ...interface{}) { s.l.Error(fmt.Sprintf(format, args...)) }
