package templates

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSlots() Slots {
	return Slots{
		Backend:          "pbs",
		Walltime:         5400,
		WalltimeClock:    "01:30:00",
		MaxProcs:         64,
		ProcessesPerNode: 16,
		Nodes:            4,
		Account:          "CSC123",
		Queue:            "batch",
		CampaignName:     "codar.cheetah.heat",
		GroupName:        "small",
		GroupDir:         "/scratch/heat/alice/small",
		BatchScript:      "job.pbs",
		JobIDFile:        "codar.cheetah.jobid.txt",
		SubmitOut:        "codar.cheetah.submit-output.txt",
		RunOut:           "codar.cheetah.run-output.txt",
		WalltimeFile:     "codar.cheetah.walltime.txt",
	}
}

func TestDefault_Backends(t *testing.T) {
	tp := Default()

	backends, err := tp.Backends()
	require.NoError(t, err)
	assert.Equal(t, []string{"local", "pbs", "slurm"}, backends)

	assert.True(t, tp.HasBackend("local"))
	assert.False(t, tp.HasBackend("lsf"))
	assert.False(t, tp.HasBackend(""))
	assert.False(t, tp.HasBackend("../local"))
}

func TestRender_PBSBatchHeader(t *testing.T) {
	b, err := Default().Render("pbs", BatchTemplate, BatchData{
		Slots:    testSlots(),
		Commands: []string{"echo one", "echo two"},
	})
	require.NoError(t, err)

	out := string(b)
	assert.Contains(t, out, "#PBS -N codar.cheetah.heat.small\n#PBS -A CSC123\n#PBS -q batch\n#PBS -l nodes=4:ppn=16\n")
	assert.Contains(t, out, "#PBS -l walltime=01:30:00\n")
	assert.NotContains(t, out, "naccesspolicy")
	assert.Contains(t, out, "echo one\necho two\n")
	assert.Contains(t, out, "> codar.cheetah.walltime.txt")
}

func TestRender_SlurmOptionalSlots(t *testing.T) {
	slots := testSlots()
	slots.Backend = "slurm"
	slots.Constraint = "haswell"
	slots.NodeExclusive = true

	b, err := Default().Render("slurm", BatchTemplate, BatchData{Slots: slots})
	require.NoError(t, err)

	out := string(b)
	assert.Contains(t, out, "#SBATCH --constraint=haswell\n")
	assert.Contains(t, out, "#SBATCH --exclusive\n")
	assert.NotContains(t, out, "--licenses")
	assert.Contains(t, out, "#SBATCH --time=01:30:00\n")
}

func TestRender_GroupEnvQuotesValues(t *testing.T) {
	slots := testSlots()
	slots.Account = "my project"

	b, err := Default().Render("local", GroupEnvTemplate, slots)
	require.NoError(t, err)

	out := string(b)
	assert.Contains(t, out, "CODAR_CHEETAH_GROUP_WALLTIME=5400\n")
	assert.Contains(t, out, "CODAR_CHEETAH_SCHEDULER_ACCOUNT='my project'\n")
	assert.Contains(t, out, "CODAR_CHEETAH_SCHEDULER_LICENSE=''\n")
}

func TestRender_UnknownBackend(t *testing.T) {
	_, err := Default().Render("lsf", SubmitTemplate, testSlots())
	require.ErrorIs(t, err, ErrBackendNotFound)
}

func TestRender_CustomFS(t *testing.T) {
	fsys := fstest.MapFS{
		"custom/group/submit.sh.tmpl": {Data: []byte("submit {{.GroupName}} {{quote .Account}}\n")},
		"custom/group/helper.sh":      {Data: []byte("#!/bin/bash\n")},
		"custom/group/README":         {Data: []byte("notes\n")},
	}
	tp := New(fsys)

	b, err := tp.Render("custom", SubmitTemplate, Slots{GroupName: "g1", Account: "a b"})
	require.NoError(t, err)
	assert.Equal(t, "submit g1 'a b'\n", string(b))

	dst := t.TempDir()
	copied, err := tp.CopyStatic("custom", dst)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"README", "helper.sh"}, copied)

	info, err := os.Stat(filepath.Join(dst, "helper.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	assert.NoFileExists(t, filepath.Join(dst, "submit.sh.tmpl"))
}

func TestRenderFile_SetsMode(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "submit.sh")
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0600))

	require.NoError(t, Default().RenderFile("local", SubmitTemplate, dst, 0755, testSlots()))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"plain", "plain"},
		{"/usr/bin/heat", "/usr/bin/heat"},
		{"--size=64", "--size=64"},
		{"two words", "'two words'"},
		{"it's", `'it'"'"'s'`},
		{"$HOME", "'$HOME'"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ShellQuote(tt.in))
		})
	}

	assert.Equal(t, "mpirun -n 4 'a b'", ShellJoin([]string{"mpirun", "-n", "4", "a b"}))
}
