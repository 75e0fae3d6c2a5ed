// Package submit hands materialized groups to their scheduler by running
// the group's submit script, and keeps a registry of submissions.
package submit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gosweep/pkg/campaign"
)

var (
	// ErrNotMaterialized is returned when the group has no submit script.
	ErrNotMaterialized = errors.New("group has no submit script")

	// ErrAlreadySubmitted is returned when the group already has a job id.
	ErrAlreadySubmitted = errors.New("group already submitted")
)

// CommandRunner runs name with args in dir and returns its combined output.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	return cmd.CombinedOutput()
}

// Executor submits groups and records each submission in its store.
type Executor struct {
	store  *Store
	run    CommandRunner
	logger *zap.Logger
}

func NewExecutor(root string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: NewStore(root), run: execRunner, logger: logger}
}

// WithRunner replaces the command runner. A nil runner restores the default.
func (e *Executor) WithRunner(run CommandRunner) *Executor {
	if run == nil {
		run = execRunner
	}
	e.run = run
	return e
}

func (e *Executor) Store() *Store {
	return e.store
}

// Options controls a submission.
type Options struct {
	// Force resubmits a group that already has a job id.
	Force bool
}

// Submit runs the submit script of the group at groupDir and records the
// resulting job id.
//
// A failed script is recorded with StateFailed and returned as an error
// together with the record.
func (e *Executor) Submit(ctx context.Context, groupDir string, opts Options) (*Record, error) {
	if e == nil || e.store == nil {
		return nil, fmt.Errorf("executor is not initialized")
	}
	abs, err := filepath.Abs(groupDir)
	if err != nil {
		return nil, fmt.Errorf("resolve group dir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(abs, campaign.SubmitScript)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotMaterialized, abs)
	}

	jobIDPath := filepath.Join(abs, campaign.JobIDFile)
	if campaign.Exists(jobIDPath) {
		if !opts.Force {
			return nil, fmt.Errorf("%w: %s exists in %s", ErrAlreadySubmitted, campaign.JobIDFile, abs)
		}
		if err := os.Remove(jobIDPath); err != nil {
			return nil, fmt.Errorf("remove stale job id: %w", err)
		}
	}

	rec := &Record{
		SubmissionID: uuid.New().String(),
		GroupDir:     abs,
		SubmittedAt:  time.Now().UTC(),
	}
	rec.OutputPath = e.store.OutputPath(rec.SubmissionID)

	out, runErr := e.run(ctx, abs, filepath.Join(abs, campaign.SubmitScript))
	if err := os.MkdirAll(e.store.RecordDir(rec.SubmissionID), 0755); err != nil {
		return nil, fmt.Errorf("create submission dir: %w", err)
	}
	if err := os.WriteFile(rec.OutputPath, out, 0644); err != nil {
		return nil, fmt.Errorf("write submit output: %w", err)
	}

	if runErr != nil {
		rec.State = StateFailed
		rec.Error = runErr.Error()
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			rec.ExitCode = exitErr.ExitCode()
		} else {
			rec.ExitCode = -1
		}
		if err := e.store.Write(rec); err != nil {
			return nil, err
		}
		e.logger.Error("Submit script failed",
			zap.String("group_dir", abs),
			zap.Int("exit_code", rec.ExitCode),
			zap.Error(runErr))
		return rec, fmt.Errorf("run %s: %w", campaign.SubmitScript, runErr)
	}

	backend, id, err := campaign.ReadJobRef(abs)
	if err != nil {
		rec.State = StateFailed
		rec.Error = err.Error()
		if werr := e.store.Write(rec); werr != nil {
			return nil, werr
		}
		return rec, fmt.Errorf("read job id: %w", err)
	}
	rec.State = StateSubmitted
	rec.Backend = backend
	rec.JobID = id
	if backend == "local" {
		if pid, err := strconv.Atoi(id); err == nil {
			rec.PID = pid
		}
	}

	if err := e.store.Write(rec); err != nil {
		return nil, err
	}
	e.logger.Info("Submitted group",
		zap.String("group_dir", abs),
		zap.String("backend", backend),
		zap.String("job_id", id),
		zap.String("submission_id", rec.SubmissionID))
	return rec, nil
}
