package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gosweep/pkg/campaign"
	"github.com/3leaps/gosweep/pkg/materialize"
)

const testPlan = `version: "1.0"
campaign: heat-sweep
user: alice
output: campaign
machine:
  name: local
  processes_per_node: 4
scheduler:
  name: local
groups:
  - name: small
    resources:
      nodes: 1
      walltime: "00:10:00"
    runs:
      - id: run-0
        params: {size: 64}
        codes:
          - name: sim
            argv: ["/bin/true", "--size", "64"]
            nprocs: 2
      - id: run-1
        params: {size: 128}
        codes:
          - name: sim
            argv: ["/bin/true", "--size", "128"]
            nprocs: 2
  - name: large
    resources:
      walltime: 1h
    runs:
      - id: run-0
        codes:
          - name: sim
            argv: ["/bin/true"]
            nprocs: 4
`

func writePlan(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPlan), 0o644))
	return dir, path
}

func TestMaterializeCommand(t *testing.T) {
	dir, plan := writePlan(t)

	out, err := execute(t, "materialize", "--plan", plan, "--json")
	require.NoError(t, err)

	var results []materializeSummary
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, filepath.Join(dir, "campaign", "alice", "small"), results[0].GroupDir)
	assert.Equal(t, []string{"run-0", "run-1"}, results[0].Written)
	assert.Empty(t, results[0].Failed)

	groupDir := results[0].GroupDir
	for _, name := range []string{campaign.SubmitScript, campaign.FOBListFile, campaign.PlanRecordFile} {
		assert.FileExists(t, filepath.Join(groupDir, name))
	}
	assert.FileExists(t, filepath.Join(groupDir, "run-1", campaign.RunFOBFile))

	// A second pass skips every run.
	out, err = execute(t, "materialize", "--plan", plan, "--group", "small", "--json")
	require.NoError(t, err)
	results = nil
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Written)
	assert.Equal(t, []string{"run-0", "run-1"}, results[0].Skipped)
}

func TestMaterializeCommand_Errors(t *testing.T) {
	_, plan := writePlan(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown group", []string{"--group", "medium"}, "Unknown group"},
		{"unsupported scheduler", []string{"--scheduler", "lsf"}, "Unsupported scheduler"},
		{"unsupported runner", []string{"--runner", "jsrun"}, "Unsupported runner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"materialize", "--plan", plan}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("missing plan file", func(t *testing.T) {
		_, err := execute(t, "materialize", "--plan", filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Failed to load campaign plan")
	})

	t.Run("invalid plan", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plan.yaml")
		require.NoError(t, os.WriteFile(path, []byte("version: \"1.0\"\ncampaign: x\ngroups: []\n"), 0o644))
		_, err := execute(t, "materialize", "--plan", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid campaign plan")
	})
}

func TestWriteMaterializeResults_Table(t *testing.T) {
	results := []*materialize.Result{{
		GroupDir:     "/c/alice/small",
		Written:      []string{"run-0"},
		Skipped:      []string{"run-1"},
		Failed:       []materialize.RunError{{RunID: "run-2", Err: materialize.ErrTransformTarget}},
		SubmitScript: "/c/alice/small/submit.sh",
	}}

	var buf bytes.Buffer
	require.NoError(t, writeMaterializeResults(&buf, results, false))
	out := buf.String()
	assert.Contains(t, out, "GROUP DIR")
	assert.Contains(t, out, "/c/alice/small/submit.sh")
	assert.Contains(t, out, "failed: /c/alice/small/run-2: transform target not found")
}
