package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/3leaps/gosweep/internal/errors"
	"github.com/3leaps/gosweep/internal/observability"
	"github.com/3leaps/gosweep/pkg/scheduler"
	"github.com/3leaps/gosweep/pkg/templates"
)

var (
	doctorScheduler string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  gosweep doctor                    # Full environment check
  gosweep doctor --scheduler slurm  # Also check Slurm tools on PATH`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorScheduler, "scheduler", "", "Run scheduler-specific checks (local, pbs, slurm)")
}

// schedulerTools lists the commands each backend's scripts invoke.
var schedulerTools = map[string][]string{
	"local": {"sh", "kill"},
	"pbs":   {"qsub", "qstat", "qdel"},
	"slurm": {"sbatch", "squeue", "scancel"},
}

func runDoctor(cmd *cobra.Command, args []string) {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 6
	if doctorScheduler != "" {
		totalChecks = 7
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible access
	version := crucible.GetVersion()
	if version.Crucible != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			errwrap.NewExternalServiceError("Crucible service unavailable"))
	}
	checkNum++

	// Check 3: Gofulmen access
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 4: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot find config directory",
			errwrap.WrapInternal(contextOf(cmd), err, "Cannot find config directory"))
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
		zap.String("config_dir", configDir))
	checkNum++

	// Check 5: Scheduler templates
	templatesDir := ""
	if cfg, err := currentConfig(contextOf(cmd)); err == nil {
		templatesDir = cfg.Scheduler.TemplatesDir
	}
	missing := missingTemplates(templates.FromDir(templatesDir))
	if len(missing) == 0 {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking scheduler templates... ✅ %v", checkNum, totalChecks, scheduler.Supported()))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking scheduler templates... ❌ missing %v", checkNum, totalChecks, missing),
			zap.String("templates_dir", templatesDir))
		allChecks = false
	}
	checkNum++

	// Check 6: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorScheduler != "" {
		allChecks = runSchedulerChecks(doctorScheduler, checkNum, totalChecks) && allChecks
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// missingTemplates returns the supported backends without a template
// directory in tp.
func missingTemplates(tp *templates.Templater) []string {
	var missing []string
	for _, name := range scheduler.Supported() {
		if !tp.HasBackend(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// missingTools returns the backend's commands that are not on PATH.
func missingTools(backend string, lookPath func(string) (string, error)) ([]string, error) {
	tools, ok := schedulerTools[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q", scheduler.ErrUnsupportedScheduler, backend)
	}
	var missing []string
	for _, tool := range tools {
		if _, err := lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	return missing, nil
}

// runSchedulerChecks checks that the backend's submission tools are
// installed.
func runSchedulerChecks(backend string, checkNum, totalChecks int) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Scheduler Checks:")

	missing, err := missingTools(backend, exec.LookPath)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking %s tools... ❌ %v", checkNum, totalChecks, backend, err))
		return false
	}
	if len(missing) > 0 {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking %s tools... ❌ not on PATH: %v", checkNum, totalChecks, backend, missing))
		printSchedulerHelp(backend)
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking %s tools... ✅ %v", checkNum, totalChecks, backend, schedulerTools[backend]))
	return true
}

// printSchedulerHelp prints hints for making a backend's tools available.
func printSchedulerHelp(backend string) {
	observability.CLILogger.Info("")
	observability.CLILogger.Info(fmt.Sprintf("To submit %s groups from this machine:", backend))
	observability.CLILogger.Info("  1. Run gosweep on a login node of the cluster, or")
	observability.CLILogger.Info("  2. Load the scheduler client module (e.g. 'module load " + backend + "'), or")
	observability.CLILogger.Info("  3. Materialize with --scheduler local for a workstation dry run")
	observability.CLILogger.Info("")
}
