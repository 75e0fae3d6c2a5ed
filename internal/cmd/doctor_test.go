package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gosweep/internal/observability"
	"github.com/3leaps/gosweep/pkg/scheduler"
	"github.com/3leaps/gosweep/pkg/templates"
)

func TestMissingTools(t *testing.T) {
	onPath := func(available ...string) func(string) (string, error) {
		return func(name string) (string, error) {
			for _, a := range available {
				if a == name {
					return "/usr/bin/" + name, nil
				}
			}
			return "", errors.New("not found")
		}
	}

	tests := []struct {
		name      string
		backend   string
		available []string
		want      []string
	}{
		{"slurm complete", "slurm", []string{"sbatch", "squeue", "scancel"}, nil},
		{"slurm without scancel", "slurm", []string{"sbatch", "squeue"}, []string{"scancel"}},
		{"pbs absent", "pbs", nil, []string{"qsub", "qstat", "qdel"}},
		{"local", "local", []string{"sh", "kill"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := missingTools(tt.backend, onPath(tt.available...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := missingTools("lsf", onPath())
	assert.ErrorIs(t, err, scheduler.ErrUnsupportedScheduler)
}

func TestMissingTemplates(t *testing.T) {
	assert.Empty(t, missingTemplates(templates.Default()))
	assert.Equal(t, scheduler.Supported(), missingTemplates(templates.FromDir(t.TempDir())))
}

func TestSchedulerToolsCoverSupportedBackends(t *testing.T) {
	for _, name := range scheduler.Supported() {
		assert.Contains(t, schedulerTools, name)
	}
}

func TestPrintSchedulerHelp(t *testing.T) {
	observability.InitCLILogger("test", false)

	assert.NotPanics(t, func() {
		printSchedulerHelp("slurm")
	})
}
