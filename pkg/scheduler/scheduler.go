// Package scheduler produces the submit, batch and monitor scripts of a
// scheduler submission group.
//
// Each backend (local, pbs, slurm) implements the same Scheduler contract
// against the templater. The backend is selected once with New; callers
// never need to know which variant they hold.
package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/3leaps/gosweep/pkg/campaign"
	"github.com/3leaps/gosweep/pkg/templates"
)

// ErrUnsupportedScheduler is returned for an unknown backend or a backend
// without a template directory. It is a configuration error and is always
// returned before any file is written.
var ErrUnsupportedScheduler = errors.New("unsupported scheduler")

// Scheduler renders the scripts of a submission group.
type Scheduler interface {
	// Name returns the backend name ("local", "pbs", "slurm").
	Name() string

	// BatchScriptName returns the batch script filename inside the group dir.
	BatchScriptName() string

	// Prepare creates the group directory, copies the backend's static
	// helper scripts and writes the group environment file.
	Prepare(g *campaign.Group) error

	// WriteSubmitScript writes a script that starts the batch script
	// detached and records the job id. It returns the script path.
	WriteSubmitScript(g *campaign.Group) (string, error)

	// WriteBatchScript writes the script that runs every run of the group,
	// in index order, under the configured runner. wrapper is prepended to
	// each invocation's argv.
	WriteBatchScript(wrapper []string, g *campaign.Group) (string, error)

	// WriteMonitorScript writes a script that blocks until the submitted
	// job or process terminates.
	WriteMonitorScript(g *campaign.Group) (string, error)
}

type backend struct {
	batchScript   string
	ignoreOptions bool
	build         func(base) Scheduler
}

var backends = map[string]backend{
	"local": {batchScript: "local-run.sh", ignoreOptions: true, build: func(b base) Scheduler { return &Local{b} }},
	"pbs":   {batchScript: "job.pbs", build: func(b base) Scheduler { return &PBS{b} }},
	"slurm": {batchScript: "run.sbatch", build: func(b base) Scheduler { return &Slurm{b} }},
}

// Supported lists the backend names known to this package.
func Supported() []string {
	out := make([]string, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New returns the scheduler for the named backend.
//
// The backend must be known and its template directory must exist in tp;
// otherwise ErrUnsupportedScheduler is returned.
func New(name string, runner Runner, tp *templates.Templater, logger *zap.Logger) (Scheduler, error) {
	be, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not yet supported (supported: %v)", ErrUnsupportedScheduler, name, Supported())
	}
	if tp == nil {
		tp = templates.Default()
	}
	if !tp.HasBackend(name) {
		return nil, fmt.Errorf("%w: no template directory for %q", ErrUnsupportedScheduler, name)
	}
	if runner == nil {
		runner, _ = NewRunner("none")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return be.build(base{
		name:          name,
		batchScript:   be.batchScript,
		ignoreOptions: be.ignoreOptions,
		runner:        runner,
		tp:            tp,
		logger:        logger.With(zap.String("scheduler", name)),
	}), nil
}

// Local runs the batch script as a background process on the current
// machine. Scheduler options are ignored.
type Local struct{ base }

// PBS submits the batch script with qsub.
type PBS struct{ base }

// Slurm submits the batch script with sbatch.
type Slurm struct{ base }

type base struct {
	name          string
	batchScript   string
	ignoreOptions bool
	runner        Runner
	tp            *templates.Templater
	logger        *zap.Logger
}

func (b *base) Name() string {
	return b.name
}

func (b *base) BatchScriptName() string {
	return b.batchScript
}

func (b *base) slots(g *campaign.Group) templates.Slots {
	res := g.Resources
	s := templates.Slots{
		Backend:          b.name,
		Walltime:         res.Walltime.Seconds(),
		WalltimeClock:    res.Walltime.Clock(),
		MaxProcs:         res.MaxProcs,
		ProcessesPerNode: res.ProcessesPerNode,
		Nodes:            res.Nodes,
		NodeExclusive:    res.NodeExclusive,
		CampaignName:     "codar.cheetah." + g.Campaign,
		GroupName:        g.Name,
		GroupDir:         g.Dir,
		BatchScript:      b.batchScript,
		JobIDFile:        campaign.JobIDFile,
		SubmitOut:        campaign.SubmitOutFile,
		RunOut:           campaign.RunOutFile,
		WalltimeFile:     campaign.WalltimeFile,
	}
	if !b.ignoreOptions {
		s.Account = res.Options.Project
		s.Queue = res.Options.Queue
		s.Constraint = res.Options.Constraint
		s.License = res.Options.License
	}
	return s
}

func (b *base) Prepare(g *campaign.Group) error {
	if err := os.MkdirAll(g.Dir, 0755); err != nil {
		return fmt.Errorf("create group dir: %w", err)
	}
	copied, err := b.tp.CopyStatic(b.name, g.Dir)
	if err != nil {
		return err
	}
	dst := filepath.Join(g.Dir, campaign.GroupEnvFile)
	if err := b.tp.RenderFile(b.name, templates.GroupEnvTemplate, dst, 0644, b.slots(g)); err != nil {
		return err
	}
	b.logger.Debug("Prepared group directory",
		zap.String("group", g.Name),
		zap.Strings("static", copied))
	return nil
}

func (b *base) WriteSubmitScript(g *campaign.Group) (string, error) {
	dst := filepath.Join(g.Dir, campaign.SubmitScript)
	if err := b.tp.RenderFile(b.name, templates.SubmitTemplate, dst, 0755, b.slots(g)); err != nil {
		return "", err
	}
	return dst, nil
}

func (b *base) WriteBatchScript(wrapper []string, g *campaign.Group) (string, error) {
	dst := filepath.Join(g.Dir, b.batchScript)
	data := templates.BatchData{
		Slots:    b.slots(g),
		Commands: b.batchCommands(wrapper, g),
	}
	if err := b.tp.RenderFile(b.name, templates.BatchTemplate, dst, 0755, data); err != nil {
		return "", err
	}
	return dst, nil
}

func (b *base) WriteMonitorScript(g *campaign.Group) (string, error) {
	dst := filepath.Join(g.Dir, campaign.MonitorScript)
	if err := b.tp.RenderFile(b.name, templates.MonitorTemplate, dst, 0755, b.slots(g)); err != nil {
		return "", err
	}
	return dst, nil
}

// CommandDir returns the numbered output directory name of the run at
// 1-based position seq in its group.
func CommandDir(seq int) string {
	return fmt.Sprintf("run-%03d", seq)
}

// batchCommands returns the shell lines for every run in index order.
// Each run writes its component output into a numbered directory inside
// the run directory. Every component starts in the background and is
// waited on by pid, so a failing component is counted in FAILED whether
// or not the run is coupled, and later runs still execute.
func (b *base) batchCommands(wrapper []string, g *campaign.Group) []string {
	var lines []string
	for _, run := range campaign.Numbered(g.Runs) {
		out := filepath.Join(run.Path, CommandDir(run.Seq))

		lines = append(lines,
			"# "+run.ID,
			"mkdir -p "+templates.ShellQuote(out),
			"cd "+templates.ShellQuote(run.Path),
			"PIDS=",
		)
		for _, inv := range run.Codes {
			argv := make([]string, 0, len(wrapper)+len(inv.Argv))
			argv = append(argv, wrapper...)
			argv = append(argv, inv.Argv...)
			argv = b.runner.Wrap(inv.NProcs, argv)

			stdout := filepath.Join(out, campaign.StdoutName(inv.Name))
			stderr := filepath.Join(out, campaign.StderrName(inv.Name))
			lines = append(lines,
				templates.ShellJoin(argv)+
					" >"+templates.ShellQuote(stdout)+
					" 2>"+templates.ShellQuote(stderr)+" &",
				`PIDS="$PIDS $!"`,
			)
			if inv.SleepAfter > 0 {
				lines = append(lines, fmt.Sprintf("sleep %d", inv.SleepAfter))
			}
		}
		lines = append(lines,
			"RC=0",
			`for PID in $PIDS; do wait "$PID" || RC=$?; done`,
			`if [ "$RC" -ne 0 ]; then FAILED=$((FAILED + 1)); echo `+templates.ShellQuote(run.ID+": exit")+` "$RC" >&2; fi`,
			"cd "+templates.ShellQuote(g.Dir),
			"",
		)
	}
	return lines
}
