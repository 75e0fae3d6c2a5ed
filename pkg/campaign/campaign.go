// Package campaign defines the data model shared by the materializer and the
// status engine: runs, code invocations, scheduler submission groups and the
// well-known file layout of a campaign directory.
//
// A campaign directory is laid out as:
//
//	<campaign_root>/<user>/<group>/<run>
//
// where every group directory corresponds to exactly one scheduler
// submission group.
package campaign

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Invocation is one executable component of a run.
type Invocation struct {
	// Name identifies the component (e.g. "simulation", "analysis").
	// It is used as a filename suffix and must be unique within a run.
	Name string `json:"name" yaml:"name"`

	// Argv is the full argument vector: executable followed by arguments.
	Argv []string `json:"argv" yaml:"argv"`

	// NProcs is the number of processes the component runs with.
	NProcs int `json:"nprocs" yaml:"nprocs"`

	// SleepAfter is the delay in seconds after launching this component
	// before the next one is started.
	SleepAfter int `json:"sleep_after,omitempty" yaml:"sleep_after,omitempty"`

	// Timeout overrides the group default timeout for this component.
	Timeout *Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Exe returns the executable path, or "" when Argv is empty.
func (i Invocation) Exe() string {
	if len(i.Argv) == 0 {
		return ""
	}
	return i.Argv[0]
}

// Args returns the arguments following the executable.
func (i Invocation) Args() []string {
	if len(i.Argv) <= 1 {
		return []string{}
	}
	return i.Argv[1:]
}

// Transform is a per-run edit of a staged XML configuration file.
//
// The textual key form is "file:group:variable".
type Transform struct {
	File     string `json:"file" yaml:"file"`
	Group    string `json:"group" yaml:"group"`
	Variable string `json:"variable" yaml:"variable"`
	Value    string `json:"value" yaml:"value"`
}

// Key returns the "file:group:variable" form of the transform target.
func (t Transform) Key() string {
	return t.File + ":" + t.Group + ":" + t.Variable
}

// ParseTransform parses a "file:group:variable" key and pairs it with value.
func ParseTransform(key, value string) (Transform, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return Transform{}, fmt.Errorf("transform key %q: expected file:group:variable", key)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return Transform{}, fmt.Errorf("transform key %q: empty component", key)
		}
	}
	return Transform{File: parts[0], Group: parts[1], Variable: parts[2], Value: value}, nil
}

// Run is one parameter assignment instance of the sweep.
//
// Runs are immutable once handed to the materializer. The materializer
// creates Path but never removes it.
type Run struct {
	ID         string         `json:"id" yaml:"id"`
	Path       string         `json:"path" yaml:"path,omitempty"`
	Inputs     []string       `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Codes      []Invocation   `json:"codes" yaml:"codes"`
	Params     map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Transforms []Transform    `json:"transforms,omitempty" yaml:"transforms,omitempty"`

	// Seq is the 1-based position of the run in its group. It names the
	// run's numbered output directory and does not change when other runs
	// of the group fail or are skipped. Zero means unnumbered.
	Seq int `json:"-" yaml:"-"`
}

// TotalProcs returns the sum of process counts over all invocations.
func (r Run) TotalProcs() int {
	total := 0
	for _, c := range r.Codes {
		total += c.NProcs
	}
	return total
}

// SchedulerOptions carries backend-specific submission options.
type SchedulerOptions struct {
	Project    string `json:"project,omitempty" yaml:"project,omitempty"`
	Queue      string `json:"queue,omitempty" yaml:"queue,omitempty"`
	Constraint string `json:"constraint,omitempty" yaml:"constraint,omitempty"`
	License    string `json:"license,omitempty" yaml:"license,omitempty"`
}

// Resources describes the allocation shared by every run of a group.
type Resources struct {
	MaxProcs         int              `json:"max_procs" yaml:"max_procs"`
	ProcessesPerNode int              `json:"processes_per_node" yaml:"processes_per_node"`
	Nodes            int              `json:"nodes" yaml:"nodes"`
	Walltime         Duration         `json:"walltime" yaml:"walltime"`
	NodeExclusive    bool             `json:"node_exclusive,omitempty" yaml:"node_exclusive,omitempty"`
	Timeout          *Duration        `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Options          SchedulerOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// Group is a scheduler submission group: a batch of runs sharing one
// resource allocation and one submit/batch/monitor script set.
type Group struct {
	Campaign  string
	Name      string
	Dir       string
	Resources Resources
	Runs      []Run
}

// Numbered returns a copy of runs in which every unnumbered run gets its
// 1-based position as Seq.
func Numbered(runs []Run) []Run {
	out := make([]Run, len(runs))
	for i, r := range runs {
		if r.Seq == 0 {
			r.Seq = i + 1
		}
		out[i] = r
	}
	return out
}

// RunPath returns the default working directory for a run id in the group.
func (g *Group) RunPath(runID string) string {
	return filepath.Join(g.Dir, runID)
}

// Machine describes the target machine as far as run layout is concerned.
type Machine struct {
	Name             string `json:"name" yaml:"name"`
	ProcessesPerNode int    `json:"processes_per_node" yaml:"processes_per_node"`
}

// Duration is a time.Duration that decodes from Go duration strings
// ("1h30m"), clock strings ("01:30:00") or plain seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Seconds returns the whole number of seconds.
func (d Duration) Seconds() int {
	return int(time.Duration(d) / time.Second)
}

// Clock formats the duration as HH:MM:SS, the form batch schedulers expect.
func (d Duration) Clock() string {
	s := d.Seconds()
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
