package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gosweep/internal/config"
	"github.com/3leaps/gosweep/internal/observability"
	"github.com/3leaps/gosweep/pkg/adiosxml"
	"github.com/3leaps/gosweep/pkg/campaign"
	"github.com/3leaps/gosweep/pkg/materialize"
	"github.com/3leaps/gosweep/pkg/scheduler"
	"github.com/3leaps/gosweep/pkg/templates"
)

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Materialize campaign groups into run directories and scripts",
	Long: `Materialize every group of a campaign plan under <output>/<user>/<group>.

Each run gets its own directory with staged inputs, parameter records and a
job descriptor. Each group gets the scheduler's submit, batch and monitor
scripts. Runs already listed in the group's fobs.json are skipped, so an
interrupted materialization can be resumed.

Examples:
  gosweep materialize --plan campaign.yaml
  gosweep materialize --plan campaign.yaml --group small --continue-on-error
  gosweep materialize --plan campaign.yaml --scheduler slurm --runner srun`,
	RunE: runMaterialize,
}

func init() {
	rootCmd.AddCommand(materializeCmd)

	materializeCmd.Flags().String("plan", "", "Campaign plan file (YAML or JSON)")
	materializeCmd.Flags().StringSlice("group", nil, "Only materialize these groups")
	materializeCmd.Flags().Bool("continue-on-error", false, "Keep materializing later runs after a run fails")
	materializeCmd.Flags().String("scheduler", "", "Override the plan's scheduler backend")
	materializeCmd.Flags().String("runner", "", "Override the plan's runner")
	materializeCmd.Flags().String("templates-dir", "", "Load scheduler templates from this directory")
	materializeCmd.Flags().Bool("json", false, "Output results as JSON")
	_ = materializeCmd.MarkFlagRequired("plan")
}

// materializeSettings is the merged view of plan, configuration and flags.
type materializeSettings struct {
	scheduler    string
	runner       string
	templatesDir string
	wrapper      []string
	libraryPaths map[string]string
}

func resolveMaterializeSettings(cmd *cobra.Command, plan *campaign.Plan, cfg *config.Config) materializeSettings {
	s := materializeSettings{
		scheduler:    plan.Scheduler.Name,
		runner:       plan.Scheduler.Runner,
		templatesDir: cfg.Scheduler.TemplatesDir,
		wrapper:      plan.Scheduler.Wrapper,
		libraryPaths: cfg.Telemetry.LibraryPaths,
	}
	if len(s.wrapper) == 0 {
		s.wrapper = cfg.Scheduler.Wrapper
	}
	if v, _ := cmd.Flags().GetString("scheduler"); v != "" {
		s.scheduler = v
	}
	if v, _ := cmd.Flags().GetString("runner"); v != "" {
		s.runner = v
	}
	if v, _ := cmd.Flags().GetString("templates-dir"); v != "" {
		s.templatesDir = v
	}
	return s
}

func runMaterialize(cmd *cobra.Command, _ []string) error {
	ctx := contextOf(cmd)
	planPath, _ := cmd.Flags().GetString("plan")
	only, _ := cmd.Flags().GetStringSlice("group")
	continueOnError, _ := cmd.Flags().GetBool("continue-on-error")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	plan, err := campaign.LoadPlan(planPath)
	if err != nil {
		var verrs campaign.ValidationErrors
		if errors.As(err, &verrs) {
			return exitError(foundry.ExitInvalidArgument, "Invalid campaign plan", err)
		}
		return exitError(foundry.ExitFileReadError, "Failed to load campaign plan", err)
	}

	for _, name := range only {
		if _, ok := plan.FindGroup(name); !ok {
			return exitError(foundry.ExitInvalidArgument, "Unknown group", fmt.Errorf("group %q is not in the plan", name))
		}
	}

	settings := resolveMaterializeSettings(cmd, plan, cfg)
	runner, err := scheduler.NewRunner(settings.runner)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unsupported runner", err)
	}
	sched, err := scheduler.New(settings.scheduler, runner, templates.FromDir(settings.templatesDir), observability.CLILogger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unsupported scheduler", err)
	}

	m := materialize.New(sched, adiosxml.New(), observability.CLILogger)
	results, err := materializePlan(ctx, m, plan, only, settings, continueOnError)
	if werr := writeMaterializeResults(cmd.OutOrStdout(), results, jsonOutput); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		var runErr *materialize.RunError
		if errors.As(err, &runErr) {
			return exitError(foundry.ExitInvalidArgument, "Run materialization failed", err)
		}
		return exitError(foundry.ExitFileWriteError, "Materialization failed", err)
	}

	for _, r := range results {
		if len(r.Failed) > 0 {
			return exitError(foundry.ExitInvalidArgument, "Materialization completed with failed runs",
				fmt.Errorf("group %s: %d run(s) failed", r.GroupDir, len(r.Failed)))
		}
	}
	return nil
}

// materializePlan materializes the selected groups in plan order. It stops
// at the first group error and returns the results gathered so far.
func materializePlan(ctx context.Context, m *materialize.Materializer, plan *campaign.Plan, only []string, s materializeSettings, continueOnError bool) ([]*materialize.Result, error) {
	selected := make(map[string]bool, len(only))
	for _, name := range only {
		selected[name] = true
	}

	var results []*materialize.Result
	for _, g := range plan.BuildGroups() {
		if len(selected) > 0 && !selected[g.Name] {
			continue
		}
		gp, _ := plan.FindGroup(g.Name)
		opts := materialize.Options{
			Machine: plan.Machine,
			Telemetry: materialize.Telemetry{
				Enabled:      plan.Telemetry.Enabled,
				Port:         plan.Telemetry.Port,
				LibraryPaths: s.libraryPaths,
			},
			ProfileConfig:            plan.ProfileConfig,
			Wrapper:                  s.wrapper,
			KillOnPartialFailure:     gp.KillOnPartialFailure,
			PostProcessScript:        gp.PostProcess.Script,
			PostProcessStopOnFailure: gp.PostProcess.StopOnFailure,
			ContinueOnError:          continueOnError,
		}

		observability.CLILogger.Info("Materializing group",
			zap.String("group", g.Name),
			zap.String("dir", g.Dir),
			zap.Int("runs", len(g.Runs)))
		res, err := m.MaterializeGroup(ctx, g, opts)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, fmt.Errorf("group %s: %w", g.Name, err)
		}
	}
	return results, nil
}

type materializeSummary struct {
	SessionID    string   `json:"session_id"`
	GroupDir     string   `json:"group_dir"`
	Written      []string `json:"written"`
	Skipped      []string `json:"skipped"`
	Failed       []string `json:"failed"`
	SubmitScript string   `json:"submit_script,omitempty"`
}

func writeMaterializeResults(w io.Writer, results []*materialize.Result, jsonOutput bool) error {
	if jsonOutput {
		out := make([]materializeSummary, 0, len(results))
		for _, r := range results {
			failed := make([]string, 0, len(r.Failed))
			for _, f := range r.Failed {
				failed = append(failed, f.RunID)
			}
			out = append(out, materializeSummary{
				SessionID:    r.SessionID,
				GroupDir:     r.GroupDir,
				Written:      nonNil(r.Written),
				Skipped:      nonNil(r.Skipped),
				Failed:       failed,
				SubmitScript: r.SubmitScript,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "GROUP DIR\tWRITTEN\tSKIPPED\tFAILED\tSUBMIT SCRIPT")
	for _, r := range results {
		submit := r.SubmitScript
		if submit == "" {
			submit = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", r.GroupDir, len(r.Written), len(r.Skipped), len(r.Failed), submit)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range results {
		for _, f := range r.Failed {
			_, _ = fmt.Fprintf(w, "failed: %s/%s: %v\n", r.GroupDir, f.RunID, f.Err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
