// Package cmd implements the gosweep command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gosweep/internal/config"
	"github.com/3leaps/gosweep/internal/observability"
)

var (
	verbose bool

	appIdentity *config.Identity
	appConfig   *config.Config

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{
		Version:   "dev",
		Commit:    "unknown",
		BuildDate: "unknown",
	}
)

var rootCmd = &cobra.Command{
	Use:   "gosweep",
	Short: "Materialize and track parameter-sweep campaigns on batch schedulers",
	Long: `gosweep turns a campaign plan into per-run directories, job descriptors
and scheduler scripts, submits the resulting groups, and reports their status
by reading the campaign tree the executor writes back.

Examples:
  gosweep materialize --plan campaign.yaml
  gosweep submit campaign/alice/small
  gosweep status campaign --details --return-codes`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initApp,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
}

// initApp loads configuration and the CLI logger before every command.
func initApp(cmd *cobra.Command, _ []string) error {
	overrides := map[string]any{}
	if lvl, _ := cmd.Root().PersistentFlags().GetString("log-level"); lvl != "" {
		overrides["logging"] = map[string]any{"level": lvl}
	}
	cfg, err := config.Load(contextOf(cmd), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg
	appIdentity = config.GetIdentity()

	name := "gosweep"
	if appIdentity != nil && appIdentity.BinaryName != "" {
		name = appIdentity.BinaryName
	}
	observability.InitCLILogger(name, verbose)
	if !verbose {
		if err := observability.SetLevel(name, cfg.Logging.Level, observability.ProfileConsole); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid log level", err)
		}
	}
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCodeOf(err)
	}
	return 0
}

// SetVersionInfo records the build metadata reported by the version command
// and the status API.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the application identity, or nil before the
// configuration is loaded.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// currentConfig returns the loaded configuration, loading defaults when a
// command runs without the root pre-run (as in tests).
func currentConfig(ctx context.Context) (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	appConfig = cfg
	appIdentity = config.GetIdentity()
	return cfg, nil
}

// cliError carries the process exit code of a failed command.
type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *cliError) Unwrap() error {
	return e.err
}

func exitError(code int, message string, err error) error {
	if err == nil {
		err = errors.New(message)
	}
	return &cliError{code: code, message: message, err: err}
}

// exitCodeOf returns the code recorded by exitError, or 1.
func exitCodeOf(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

// ExitWithCode logs msg and err, then terminates the process with code.
func ExitWithCode(logger *zap.Logger, code int, msg string, err error) {
	if logger == nil {
		logger = observability.CLILogger
	}
	logger.Error(msg, zap.Error(err), zap.Int("exit_code", code))
	_ = logger.Sync()
	os.Exit(code)
}
