package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/gosweep/internal/observability"
	"github.com/3leaps/gosweep/pkg/status"
)

var statusCmd = &cobra.Command{
	Use:   "status [campaign-dir]",
	Short: "Report the status of every group in a campaign",
	Long: `Walk the campaign tree and report one line per group:

  <user>/<group> : NOT SUBMITTED | NOT STARTED | IN PROGRESS, job <id>, <settled> / <total> | DONE

Optional sections add per-state counts, per-run return codes, the executor
log filtered by severity, and captured stdout/stderr.

Examples:
  gosweep status campaign
  gosweep status campaign --user alice --group small --details
  gosweep status campaign --logs --min-level warning --run run-3
  gosweep status campaign --watch 30s`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringSlice("user", nil, "Only report these users")
	statusCmd.Flags().StringSlice("group", nil, "Only report these groups")
	statusCmd.Flags().StringSlice("run", nil, "Restrict return codes, logs and output to these run ids")
	statusCmd.Flags().Bool("details", false, "Show per-state, per-reason and per-return-code counts")
	statusCmd.Flags().Bool("return-codes", false, "List the return code of every component")
	statusCmd.Flags().Bool("logs", false, "Show the executor log")
	statusCmd.Flags().String("min-level", "", "Minimum executor log severity (default from status.min_log_level)")
	statusCmd.Flags().Bool("output", false, "Play back captured stdout and stderr")
	statusCmd.Flags().Bool("json", false, "Output group reports as JSON")
	statusCmd.Flags().Duration("watch", 0, "Refresh at this interval until every group is DONE")
}

type statusRequest struct {
	root   string
	filter status.Filter
	opts   status.ReportOptions
	json   bool
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := contextOf(cmd)
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	req := statusRequest{root: cfg.Campaign.Root}
	if len(args) == 1 {
		req.root = args[0]
	}
	req.filter.Users, _ = cmd.Flags().GetStringSlice("user")
	req.filter.Groups, _ = cmd.Flags().GetStringSlice("group")
	req.filter.Runs, _ = cmd.Flags().GetStringSlice("run")
	req.opts.Details, _ = cmd.Flags().GetBool("details")
	req.opts.ReturnCodes, _ = cmd.Flags().GetBool("return-codes")
	req.opts.Logs, _ = cmd.Flags().GetBool("logs")
	req.opts.Output, _ = cmd.Flags().GetBool("output")
	req.opts.Runs = req.filter.Runs
	req.json, _ = cmd.Flags().GetBool("json")

	levelName, _ := cmd.Flags().GetString("min-level")
	if levelName == "" {
		levelName = cfg.Status.MinLogLevel
	}
	req.opts.MinLevel, err = status.ParseLevel(levelName)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --min-level value", err)
	}

	interval, _ := cmd.Flags().GetDuration("watch")
	if interval < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --watch value", fmt.Errorf("interval must not be negative"))
	}

	out := cmd.OutOrStdout()
	if interval == 0 {
		_, err := reportStatus(out, req)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watchStatus(ctx, out, req, interval)
}

// reportStatus scans once and renders the reports. It reports whether every
// matching group is DONE.
func reportStatus(w io.Writer, req statusRequest) (bool, error) {
	reports, err := status.Scan(req.root, req.filter)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, exitError(foundry.ExitFileNotFound, "Campaign directory not found", err)
		}
		return false, exitError(foundry.ExitFileReadError, "Failed to scan campaign", err)
	}

	if req.json {
		if reports == nil {
			reports = []status.GroupReport{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return false, err
		}
	} else if err := status.NewReporter(w, req.opts).Write(reports); err != nil {
		return false, exitError(foundry.ExitFileReadError, "Failed to render status", err)
	}

	done := len(reports) > 0
	for i := range reports {
		if reports[i].Err != nil {
			observability.CLILogger.Warn("Group could not be inspected",
				zap.String("group", reports[i].Name()),
				zap.Error(reports[i].Err))
		}
		if reports[i].Lifecycle != status.Done {
			done = false
		}
	}
	return done, nil
}

// watchStatus re-renders the report once per interval until every group is
// DONE or ctx is cancelled.
func watchStatus(ctx context.Context, w io.Writer, req statusRequest, interval time.Duration) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		// Wait fails only when ctx ends before the next slot.
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		_, _ = fmt.Fprintf(w, "== %s\n", time.Now().Format(time.RFC3339))
		done, err := reportStatus(w, req)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
