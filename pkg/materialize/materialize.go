// Package materialize turns the runs of a scheduler submission group into
// on-disk execution artifacts: run directories, command text, parameter
// records, job descriptors and the group's scripts.
//
// Materialization is append-only and resumable. Every run that completes is
// recorded as one line of the group's fobs.json; a later call skips runs
// already recorded there, so restarting after a crash never duplicates work.
package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gosweep/pkg/campaign"
	"github.com/3leaps/gosweep/pkg/fob"
	"github.com/3leaps/gosweep/pkg/scheduler"
	"github.com/3leaps/gosweep/pkg/templates"
)

// ErrTransformTarget is returned when a per-run transform cannot be applied
// to its staged configuration file. It is fatal for the run only.
var ErrTransformTarget = errors.New("transform target not found")

// Transformer edits a staged XML configuration file.
type Transformer interface {
	Apply(path, group, variable, value string) error
}

// Options controls the materialization of one group.
type Options struct {
	Machine   campaign.Machine
	Telemetry Telemetry

	// ProfileConfig is copied into every run directory when set.
	ProfileConfig string

	// Wrapper is prepended to every invocation in the batch script.
	Wrapper []string

	KillOnPartialFailure     bool
	PostProcessScript        string
	PostProcessStopOnFailure bool

	// ContinueOnError keeps materializing later runs after one fails.
	ContinueOnError bool
}

// RunError records the failure of one run.
type RunError struct {
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: %v", e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Result summarizes a MaterializeGroup call.
type Result struct {
	SessionID string
	GroupDir  string

	Written []string
	Skipped []string
	Failed  []RunError

	SubmitScript  string
	BatchScript   string
	MonitorScript string
}

// GroupRecord is written to the group directory after every materialization
// session.
type GroupRecord struct {
	SessionID      string             `json:"session_id"`
	Campaign       string             `json:"campaign"`
	Group          string             `json:"group"`
	Scheduler      string             `json:"scheduler"`
	Resources      campaign.Resources `json:"resources"`
	Runs           []string           `json:"runs"`
	Failed         []string           `json:"failed,omitempty"`
	MaterializedAt time.Time          `json:"materialized_at"`
}

// Materializer materializes groups for one scheduler backend.
type Materializer struct {
	sched       scheduler.Scheduler
	transformer Transformer
	logger      *zap.Logger
}

// New returns a Materializer. transformer may be nil when no run declares
// transforms; logger may be nil.
func New(sched scheduler.Scheduler, transformer Transformer, logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{sched: sched, transformer: transformer, logger: logger}
}

// MaterializeGroup materializes every run of g in order and writes the
// group's scripts.
//
// Configuration problems are reported before anything is written. A run
// failure aborts that run only; earlier runs stay intact. Unless
// opts.ContinueOnError is set, the first failure stops the group and is
// returned as a *RunError.
func (m *Materializer) MaterializeGroup(ctx context.Context, g *campaign.Group, opts Options) (*Result, error) {
	if g == nil {
		return nil, fmt.Errorf("group is nil")
	}
	if m.sched == nil {
		return nil, fmt.Errorf("materializer has no scheduler")
	}
	if strings.TrimSpace(g.Dir) == "" {
		return nil, fmt.Errorf("group %s has no directory", g.Name)
	}
	libPath, err := opts.Telemetry.compile(opts.Machine)
	if err != nil {
		return nil, err
	}
	if m.transformer == nil {
		for _, r := range g.Runs {
			if len(r.Transforms) > 0 {
				return nil, fmt.Errorf("run %s declares transforms but no transformer is configured", r.ID)
			}
		}
	}

	res := &Result{SessionID: uuid.New().String(), GroupDir: g.Dir}
	logger := m.logger.With(
		zap.String("group", g.Name),
		zap.String("session_id", res.SessionID))

	if err := m.sched.Prepare(g); err != nil {
		return res, fmt.Errorf("prepare group %s: %w", g.Name, err)
	}

	log, err := fob.OpenLog(filepath.Join(g.Dir, campaign.FOBListFile))
	if err != nil {
		return res, err
	}
	defer func() { _ = log.Close() }()

	// Runs keep their group position as Seq so a failed run never shifts
	// the output directories of the runs after it.
	runs := campaign.Numbered(g.Runs)
	ready := make([]campaign.Run, 0, len(runs))
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if log.Has(run.ID) {
			res.Skipped = append(res.Skipped, run.ID)
			ready = append(ready, run)
			logger.Debug("Run already materialized", zap.String("run", run.ID))
			continue
		}

		if err := m.materializeRun(g, run, opts, libPath, log); err != nil {
			runErr := RunError{RunID: run.ID, Err: err}
			res.Failed = append(res.Failed, runErr)
			logger.Error("Run materialization failed", zap.String("run", run.ID), zap.Error(err))
			if !opts.ContinueOnError {
				return res, &runErr
			}
			continue
		}
		res.Written = append(res.Written, run.ID)
		ready = append(ready, run)
		logger.Debug("Materialized run", zap.String("run", run.ID), zap.String("path", run.Path))
	}

	if err := m.writeScripts(g, ready, opts, res); err != nil {
		return res, err
	}
	if err := writeGroupRecord(g, m.sched.Name(), ready, res); err != nil {
		return res, err
	}

	logger.Info("Materialized group",
		zap.Int("written", len(res.Written)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

func (m *Materializer) writeScripts(g *campaign.Group, ready []campaign.Run, opts Options, res *Result) error {
	batchGroup := *g
	batchGroup.Runs = ready

	var err error
	if res.SubmitScript, err = m.sched.WriteSubmitScript(g); err != nil {
		return fmt.Errorf("write submit script: %w", err)
	}
	if res.BatchScript, err = m.sched.WriteBatchScript(opts.Wrapper, &batchGroup); err != nil {
		return fmt.Errorf("write batch script: %w", err)
	}
	if res.MonitorScript, err = m.sched.WriteMonitorScript(g); err != nil {
		return fmt.Errorf("write monitor script: %w", err)
	}
	return nil
}

func (m *Materializer) materializeRun(g *campaign.Group, run campaign.Run, opts Options, libPath string, log *fob.Log) error {
	if strings.TrimSpace(run.Path) == "" {
		return fmt.Errorf("run has no working directory")
	}
	if err := os.MkdirAll(run.Path, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	if opts.ProfileConfig != "" {
		if _, err := copyInto(opts.ProfileConfig, run.Path); err != nil {
			return fmt.Errorf("stage profile config: %w", err)
		}
	}
	for _, in := range run.Inputs {
		if _, err := copyInto(in, run.Path); err != nil {
			return fmt.Errorf("stage input: %w", err)
		}
	}

	for _, tr := range run.Transforms {
		target := filepath.Join(run.Path, tr.File)
		if err := m.transformer.Apply(target, tr.Group, tr.Variable, tr.Value); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrTransformTarget, tr.Key(), err)
		}
	}

	if err := writeRunParams(run); err != nil {
		return err
	}

	invocations, err := buildInvocations(g, run, opts, libPath)
	if err != nil {
		return err
	}

	fobPath := filepath.Join(run.Path, campaign.RunFOBFile)
	d := &fob.Descriptor{
		ID:                       run.ID,
		Runs:                     invocations,
		WorkingDir:               run.Path,
		KillOnPartialFailure:     opts.KillOnPartialFailure,
		PostProcessScript:        opts.PostProcessScript,
		PostProcessStopOnFailure: opts.PostProcessStopOnFailure,
		PostProcessArgs:          []string{fobPath},
	}
	line, err := fob.Encode(d)
	if err != nil {
		return err
	}
	if err := fob.WriteFile(fobPath, line); err != nil {
		return err
	}
	return log.Append(run.ID, line)
}

func writeRunParams(run campaign.Run) error {
	var b strings.Builder
	for _, c := range run.Codes {
		b.WriteString(templates.ShellJoin(c.Argv))
		b.WriteString("\n")
	}
	if err := os.WriteFile(filepath.Join(run.Path, campaign.RunCommandFile), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write run command: %w", err)
	}

	params, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run params: %w", err)
	}
	params = append(params, '\n')
	if err := os.WriteFile(filepath.Join(run.Path, campaign.RunParamsFile), params, 0644); err != nil {
		return fmt.Errorf("write run params: %w", err)
	}
	return nil
}

func buildInvocations(g *campaign.Group, run campaign.Run, opts Options, libPath string) ([]fob.Invocation, error) {
	offsets := ListenerOffsets(run.Codes, opts.Machine.ProcessesPerNode)
	out := make([]fob.Invocation, 0, len(run.Codes))

	for i, c := range run.Codes {
		profileDir := filepath.Join(run.Path, campaign.ProfileDirName(c.Name))
		if err := os.MkdirAll(profileDir, 0755); err != nil {
			return nil, fmt.Errorf("create profile dir for %s: %w", c.Name, err)
		}

		env := map[string]any{"PROFILEDIR": profileDir}
		if opts.Telemetry.Enabled {
			addTelemetryEnv(env, opts.Telemetry, run.Path, libPath, opts.Machine.ProcessesPerNode, offsets[i])
		}

		inv := fob.Invocation{
			Name:       c.Name,
			Exe:        c.Exe(),
			Args:       c.Args(),
			NProcs:     c.NProcs,
			SleepAfter: c.SleepAfter,
			Env:        env,
		}
		timeout := c.Timeout
		if timeout == nil {
			timeout = g.Resources.Timeout
		}
		if timeout != nil {
			secs := timeout.Seconds()
			inv.Timeout = &secs
		}
		out = append(out, inv)
	}
	return out, nil
}

func writeGroupRecord(g *campaign.Group, sched string, ready []campaign.Run, res *Result) error {
	rec := GroupRecord{
		SessionID:      res.SessionID,
		Campaign:       g.Campaign,
		Group:          g.Name,
		Scheduler:      sched,
		Resources:      g.Resources,
		Runs:           make([]string, 0, len(ready)),
		MaterializedAt: time.Now().UTC(),
	}
	for _, r := range ready {
		rec.Runs = append(rec.Runs, r.ID)
	}
	for _, f := range res.Failed {
		rec.Failed = append(rec.Failed, f.RunID)
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal group record: %w", err)
	}
	b = append(b, '\n')
	if err := os.WriteFile(filepath.Join(g.Dir, campaign.PlanRecordFile), b, 0644); err != nil {
		return fmt.Errorf("write group record: %w", err)
	}
	return nil
}
