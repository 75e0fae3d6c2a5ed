package fob

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDescriptor(id string) *Descriptor {
	timeout := 120
	return &Descriptor{
		ID: id,
		Runs: []Invocation{
			{
				Name:       "sim",
				Exe:        "/bin/heat",
				Args:       []string{"--size", "64"},
				NProcs:     8,
				SleepAfter: 5,
				Env:        map[string]any{"PROFILEDIR": "/tmp/x/codar.cheetah.tau-sim", "SOS_CMD_PORT": float64(22500)},
				Timeout:    &timeout,
			},
			{
				Name:   "analysis",
				Exe:    "/bin/stage",
				Args:   []string{},
				NProcs: 2,
				Env:    map[string]any{},
			},
		},
		WorkingDir:               "/tmp/x",
		KillOnPartialFailure:     true,
		PostProcessScript:        "/bin/post.sh",
		PostProcessStopOnFailure: true,
		PostProcessArgs:          []string{"/tmp/x/codar.cheetah.fob.json"},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sampleDescriptor("run-0")

	line, err := Encode(in)
	require.NoError(t, err)
	assert.NotContains(t, string(line), "\n")

	out, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncode_OmitsNilTimeout(t *testing.T) {
	d := sampleDescriptor("run-0")
	d.Runs[0].Timeout = nil

	line, err := Encode(d)
	require.NoError(t, err)
	assert.NotContains(t, string(line), "timeout")
	assert.Contains(t, string(line), `"kill_on_partial_failure":true`)
}

func TestEncode_RequiresID(t *testing.T) {
	_, err := Encode(&Descriptor{})
	require.Error(t, err)

	_, err = Encode(nil)
	require.Error(t, err)
}

func TestWriteFileReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codar.cheetah.fob.json")

	line, err := Encode(sampleDescriptor("run-1"))
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, line))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(line)+"\n", string(b))

	d, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", d.ID)
}

func TestLog_AppendAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fobs.json")

	l, err := OpenLog(path)
	require.NoError(t, err)
	for _, id := range []string{"run-0", "run-1", "run-2"} {
		line, err := Encode(sampleDescriptor(id))
		require.NoError(t, err)
		require.NoError(t, l.Append(id, line))
	}
	assert.Equal(t, 3, l.Len())
	require.NoError(t, l.Close())

	l, err = OpenLog(path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	assert.Equal(t, []string{"run-0", "run-1", "run-2"}, l.IDs())
	assert.True(t, l.Has("run-1"))
	assert.False(t, l.Has("run-3"))

	d, err := l.Lookup("run-2")
	require.NoError(t, err)
	assert.Equal(t, sampleDescriptor("run-2"), d)
}

func TestLog_RejectsDuplicate(t *testing.T) {
	l, err := OpenLog(filepath.Join(t.TempDir(), "fobs.json"))
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	line, err := Encode(sampleDescriptor("run-0"))
	require.NoError(t, err)
	require.NoError(t, l.Append("run-0", line))

	err = l.Append("run-0", line)
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, l.Len())
}

func TestLog_TruncatesTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fobs.json")

	first, err := Encode(sampleDescriptor("run-0"))
	require.NoError(t, err)
	second, err := Encode(sampleDescriptor("run-1"))
	require.NoError(t, err)

	// Simulate a crash halfway through the second append.
	content := string(first) + "\n" + string(second[:len(second)/2])
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	l, err := OpenLog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-0"}, l.IDs())

	require.NoError(t, l.Append("run-1", second))
	require.NoError(t, l.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, string(second), lines[1])
}

func TestLog_CorruptLineIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fobs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0644))

	_, err := OpenLog(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}
