package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gosweep/pkg/scheduler"
	"github.com/3leaps/gosweep/pkg/templates"
)

var schedulersCmd = &cobra.Command{
	Use:   "schedulers",
	Short: "List supported scheduler backends and runners",
	RunE:  runSchedulers,
}

func init() {
	rootCmd.AddCommand(schedulersCmd)
	schedulersCmd.Flags().String("templates-dir", "", "Check backends against this template directory")
	schedulersCmd.Flags().Bool("json", false, "Output as JSON")
}

type schedulerListing struct {
	Backends []backendListing `json:"backends"`
	Runners  []string         `json:"runners"`
}

type backendListing struct {
	Name      string `json:"name"`
	Templates bool   `json:"templates"`
}

func runSchedulers(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("templates-dir")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if dir == "" {
		cfg, err := currentConfig(contextOf(cmd))
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
		dir = cfg.Scheduler.TemplatesDir
	}
	return writeSchedulers(cmd.OutOrStdout(), templates.FromDir(dir), jsonOutput)
}

func writeSchedulers(w io.Writer, tp *templates.Templater, jsonOutput bool) error {
	listing := schedulerListing{Runners: scheduler.Runners()}
	for _, name := range scheduler.Supported() {
		listing.Backends = append(listing.Backends, backendListing{Name: name, Templates: tp.HasBackend(name)})
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "BACKEND\tTEMPLATES")
	for _, b := range listing.Backends {
		state := "ok"
		if !b.Templates {
			state = "missing"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", b.Name, state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "\nrunners: %s\n", strings.Join(listing.Runners, ", "))
	return nil
}
