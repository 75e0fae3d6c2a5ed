package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gosweep/internal/config"
	"github.com/3leaps/gosweep/internal/observability"
	"github.com/3leaps/gosweep/pkg/submit"
)

var submitCmd = &cobra.Command{
	Use:   "submit <group-dir>",
	Short: "Submit a materialized group to its scheduler",
	Long: `Run the group's submit.sh and record the submission.

The submit script starts the batch job and writes the job id file the status
command reads. Each submission is recorded under the gosweep data directory
together with the script's output.

Examples:
  gosweep submit campaign/alice/small
  gosweep submit campaign/alice/small --force`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "List recorded submissions",
	RunE:  runSubmissionsList,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(submissionsCmd)

	submitCmd.Flags().Bool("force", false, "Resubmit a group that already has a job id")
	submitCmd.Flags().Bool("json", false, "Output the submission record as JSON")
	submissionsCmd.Flags().Bool("json", false, "Output as JSON")
	submissionsCmd.Flags().String("group", "", "Only show submissions of this group directory")
}

// submissionsRootDir returns the directory holding submission records.
func submissionsRootDir(cfg *config.Config) (string, error) {
	if cfg != nil && strings.TrimSpace(cfg.Submit.RegistryDir) != "" {
		return cfg.Submit.RegistryDir, nil
	}
	identity := GetAppIdentity()
	if identity == nil || strings.TrimSpace(identity.ConfigName) == "" {
		return "", fmt.Errorf("app identity is not available to derive the submissions directory")
	}
	return filepath.Join(gfconfig.GetAppDataDir(identity.ConfigName), "submissions"), nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := contextOf(cmd)
	force, _ := cmd.Flags().GetBool("force")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	root, err := submissionsRootDir(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot locate submissions directory", err)
	}

	executor := submit.NewExecutor(root, observability.CLILogger)
	rec, err := executor.Submit(ctx, args[0], submit.Options{Force: force})
	if err != nil {
		switch {
		case errors.Is(err, submit.ErrNotMaterialized):
			return exitError(foundry.ExitFileNotFound, "Group is not materialized", err)
		case errors.Is(err, submit.ErrAlreadySubmitted):
			return exitError(foundry.ExitInvalidArgument, "Group already submitted (use --force to resubmit)", err)
		case rec != nil:
			return exitError(foundry.ExitExternalServiceUnavailable, "Submission failed; see "+rec.OutputPath, err)
		default:
			return exitError(foundry.ExitFileWriteError, "Submission failed", err)
		}
	}

	observability.CLILogger.Info("Submitted group",
		zap.String("group_dir", rec.GroupDir),
		zap.String("backend", rec.Backend),
		zap.String("job_id", rec.JobID),
		zap.String("submission_id", rec.SubmissionID))

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	_, _ = fmt.Fprintln(out, rec.JobID)
	return nil
}

func runSubmissionsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	group, _ := cmd.Flags().GetString("group")

	cfg, err := currentConfig(contextOf(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	root, err := submissionsRootDir(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot locate submissions directory", err)
	}
	store := submit.NewStore(root)

	var records []submit.Record
	if group != "" {
		abs, err := filepath.Abs(group)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --group value", err)
		}
		records, err = store.History(abs)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read submissions", err)
		}
	} else {
		records, err = store.List()
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read submissions", err)
		}
	}
	return writeSubmissions(cmd.OutOrStdout(), records, jsonOutput)
}

func writeSubmissions(w io.Writer, records []submit.Record, jsonOutput bool) error {
	if jsonOutput {
		if records == nil {
			records = []submit.Record{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "No submissions found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "SUBMISSION\tSTATE\tBACKEND\tJOB ID\tSUBMITTED\tGROUP DIR")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.SubmissionID),
			r.State,
			dashIfEmpty(r.Backend),
			dashIfEmpty(r.JobID),
			r.SubmittedAt.UTC().Format(time.RFC3339),
			r.GroupDir,
		)
	}
	return nil
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
