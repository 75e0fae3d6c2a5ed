package scheduler

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gosweep/pkg/campaign"
	"github.com/3leaps/gosweep/pkg/templates"
)

func testGroup(t *testing.T) *campaign.Group {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "alice", "small")
	g := &campaign.Group{
		Campaign: "heat",
		Name:     "small",
		Dir:      dir,
		Resources: campaign.Resources{
			MaxProcs:         8,
			ProcessesPerNode: 4,
			Nodes:            2,
			Walltime:         campaign.Duration(90 * time.Minute),
			Options:          campaign.SchedulerOptions{Project: "CSC123", Queue: "debug"},
		},
	}
	g.Runs = []campaign.Run{
		{
			ID:   "run-a",
			Path: g.RunPath("run-a"),
			Codes: []campaign.Invocation{
				{Name: "sim", Argv: []string{"/bin/heat", "--size", "64"}, NProcs: 4, SleepAfter: 2},
				{Name: "stage", Argv: []string{"/bin/stage", "out dir"}, NProcs: 2},
			},
		},
		{
			ID:    "run-b",
			Path:  g.RunPath("run-b"),
			Codes: []campaign.Invocation{{Name: "sim", Argv: []string{"/bin/heat"}, NProcs: 1}},
		},
	}
	return g
}

func TestNew_UnsupportedBackendFailsFast(t *testing.T) {
	g := testGroup(t)

	_, err := New("lsf", nil, nil, nil)
	require.ErrorIs(t, err, ErrUnsupportedScheduler)
	assert.Contains(t, err.Error(), "lsf")

	// Known backend name, but the template root has no directory for it.
	tp := templates.New(fstest.MapFS{"local/group/submit.sh.tmpl": {Data: []byte("x")}})
	_, err = New("pbs", nil, tp, nil)
	require.ErrorIs(t, err, ErrUnsupportedScheduler)

	assert.NoDirExists(t, g.Dir)
}

func TestNew_Variants(t *testing.T) {
	tests := []struct {
		name  string
		batch string
		want  any
	}{
		{"local", "local-run.sh", &Local{}},
		{"pbs", "job.pbs", &PBS{}},
		{"slurm", "run.sbatch", &Slurm{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.name, nil, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.name, s.Name())
			assert.Equal(t, tt.batch, s.BatchScriptName())
			assert.IsType(t, tt.want, s)
		})
	}
	assert.Equal(t, []string{"local", "pbs", "slurm"}, Supported())
}

func TestNewRunner(t *testing.T) {
	r, err := NewRunner("mpirun")
	require.NoError(t, err)
	assert.Equal(t, []string{"mpirun", "-n", "4", "/bin/heat"}, r.Wrap(4, []string{"/bin/heat"}))

	r, err = NewRunner("")
	require.NoError(t, err)
	assert.Equal(t, "none", r.Name())
	assert.Equal(t, []string{"/bin/heat"}, r.Wrap(4, []string{"/bin/heat"}))

	_, err = NewRunner("jsrun")
	require.ErrorIs(t, err, ErrUnsupportedRunner)
}

func TestLocal_Scripts(t *testing.T) {
	g := testGroup(t)
	runner, err := NewRunner("mpirun")
	require.NoError(t, err)
	s, err := New("local", runner, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Prepare(g))
	assert.FileExists(t, filepath.Join(g.Dir, "status.sh"))

	env, err := os.ReadFile(filepath.Join(g.Dir, campaign.GroupEnvFile))
	require.NoError(t, err)
	assert.Contains(t, string(env), "CODAR_CHEETAH_GROUP_WALLTIME=5400\n")
	// local ignores scheduler options
	assert.Contains(t, string(env), "CODAR_CHEETAH_SCHEDULER_ACCOUNT=''\n")
	assert.Contains(t, string(env), "CODAR_CHEETAH_CAMPAIGN_NAME=codar.cheetah.heat\n")

	submit, err := s.WriteSubmitScript(g)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(g.Dir, campaign.SubmitScript), submit)
	b, err := os.ReadFile(submit)
	require.NoError(t, err)
	assert.Contains(t, string(b), "nohup ./local-run.sh >codar.cheetah.submit-output.txt 2>&1 &")
	assert.Contains(t, string(b), `echo "local:$PID" > codar.cheetah.jobid.txt`)
	info, err := os.Stat(submit)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	monitor, err := s.WriteMonitorScript(g)
	require.NoError(t, err)
	b, err = os.ReadFile(monitor)
	require.NoError(t, err)
	assert.Contains(t, string(b), `kill -0 "$PID"`)

	batch, err := s.WriteBatchScript([]string{"tau_exec"}, g)
	require.NoError(t, err)
	b, err = os.ReadFile(batch)
	require.NoError(t, err)
	out := string(b)

	simOut := filepath.Join(g.Runs[0].Path, "run-001", campaign.StdoutName("sim"))
	assert.Contains(t, out, "mpirun -n 4 tau_exec /bin/heat --size 64 >"+simOut)
	assert.Contains(t, out, "mpirun -n 2 tau_exec /bin/stage 'out dir' >")
	assert.Contains(t, out, "sleep 2\n")
	assert.Contains(t, out, filepath.Join(g.Runs[1].Path, "run-002", campaign.StderrName("sim")))
	assert.Contains(t, out, "FAILED=0\n")

	// run order follows the group index; every run waits on its own pids
	ia := strings.Index(out, "# run-a")
	ib := strings.Index(out, "# run-b")
	require.True(t, ia >= 0 && ib > ia)
	assert.Equal(t, 2, strings.Count(out[ia:ib], `PIDS="$PIDS $!"`))
	assert.Equal(t, 1, strings.Count(out[ib:], `PIDS="$PIDS $!"`))
	assert.Contains(t, out[ib:], `for PID in $PIDS; do wait "$PID" || RC=$?; done`)
	assert.NotContains(t, out, "\nwait\n")
}

func TestBatchScript_KeepsRunNumbers(t *testing.T) {
	g := testGroup(t)
	g.Runs[1].Seq = 5
	s, err := New("slurm", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Prepare(g))

	// only the second run remains, it keeps its own number
	g.Runs = g.Runs[1:]
	batch, err := s.WriteBatchScript(nil, g)
	require.NoError(t, err)
	b, err := os.ReadFile(batch)
	require.NoError(t, err)
	assert.Contains(t, string(b), filepath.Join(g.Runs[0].Path, "run-005"))
	assert.NotContains(t, string(b), "run-001")
}

func TestLocalBatch_Failures(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	g := testGroup(t)
	g.Runs = []campaign.Run{
		{ID: "fails", Path: g.RunPath("fails"), Codes: []campaign.Invocation{
			{Name: "sim", Argv: []string{"sh", "-c", "echo broken >&2; exit 3"}, NProcs: 1},
		}},
		{ID: "coupled", Path: g.RunPath("coupled"), Codes: []campaign.Invocation{
			{Name: "sim", Argv: []string{"sh", "-c", "exit 4"}, NProcs: 1},
			{Name: "analysis", Argv: []string{"echo", "done"}, NProcs: 1},
		}},
		{ID: "after", Path: g.RunPath("after"), Codes: []campaign.Invocation{
			{Name: "sim", Argv: []string{"echo", "still runs"}, NProcs: 1},
		}},
	}
	s, err := New("local", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Prepare(g))
	batch, err := s.WriteBatchScript(nil, g)
	require.NoError(t, err)

	cmd := exec.Command("bash", batch)
	cmd.Dir = g.Dir
	stderr, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr, string(stderr))

	out := string(stderr)
	assert.Contains(t, out, "fails: exit 3")
	assert.Contains(t, out, "coupled: exit 4")

	b, err := os.ReadFile(filepath.Join(g.RunPath("after"), "run-003", campaign.StdoutName("sim")))
	require.NoError(t, err)
	assert.Equal(t, "still runs\n", string(b))
	b, err = os.ReadFile(filepath.Join(g.RunPath("fails"), "run-001", campaign.StderrName("sim")))
	require.NoError(t, err)
	assert.Equal(t, "broken\n", string(b))
	assert.FileExists(t, filepath.Join(g.Dir, campaign.WalltimeFile))
}

func TestPBS_UsesSchedulerOptions(t *testing.T) {
	g := testGroup(t)
	s, err := New("pbs", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Prepare(g))

	batch, err := s.WriteBatchScript(nil, g)
	require.NoError(t, err)
	b, err := os.ReadFile(batch)
	require.NoError(t, err)
	assert.Contains(t, string(b), "#PBS -A CSC123\n")
	assert.Contains(t, string(b), "#PBS -q debug\n")
	assert.Contains(t, string(b), "#PBS -l nodes=2:ppn=4\n")
	assert.Contains(t, string(b), "#PBS -l walltime=01:30:00\n")

	submit, err := s.WriteSubmitScript(g)
	require.NoError(t, err)
	b, err = os.ReadFile(submit)
	require.NoError(t, err)
	assert.Contains(t, string(b), "qsub job.pbs")

	monitor, err := s.WriteMonitorScript(g)
	require.NoError(t, err)
	b, err = os.ReadFile(monitor)
	require.NoError(t, err)
	assert.Contains(t, string(b), `qstat "$JOBID"`)
}

func TestCommandDir(t *testing.T) {
	assert.Equal(t, "run-001", CommandDir(1))
	assert.Equal(t, "run-042", CommandDir(42))
}
