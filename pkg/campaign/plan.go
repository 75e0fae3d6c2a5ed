package campaign

import (
	"fmt"
	"path/filepath"
)

// Plan is a validated campaign plan: the serialized output of the upstream
// sweep enumerator, grouped into scheduler submission groups.
//
// Example plan (YAML):
//
//	version: "1.0"
//	campaign: heat-sweep
//	user: alice
//	output: ./campaign
//	machine:
//	  name: local
//	  processes_per_node: 4
//	scheduler:
//	  name: local
//	  runner: mpirun
//	groups:
//	  - name: small
//	    resources:
//	      nodes: 1
//	      walltime: "00:30:00"
//	    runs:
//	      - id: run-0
//	        codes:
//	          - name: sim
//	            argv: ["./heat", "--size", "64"]
//	            nprocs: 4
type Plan struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the plan schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	Campaign string `json:"campaign" yaml:"campaign"`

	// User is the campaign-tree user directory. Default: $USER, else "default".
	User string `json:"user,omitempty" yaml:"user,omitempty"`

	// Output is the campaign root directory. Relative paths are resolved
	// against the plan file's directory.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// ProfileConfig is an optional file copied into every run directory.
	ProfileConfig string `json:"profile_config,omitempty" yaml:"profile_config,omitempty"`

	Machine   Machine         `json:"machine,omitempty" yaml:"machine,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
	Groups    []GroupPlan     `json:"groups" yaml:"groups"`
}

// SchedulerConfig selects the scheduler backend and the runner.
type SchedulerConfig struct {
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Runner string `json:"runner,omitempty" yaml:"runner,omitempty"`

	// Wrapper is prepended to every invocation in the batch script.
	Wrapper []string `json:"wrapper,omitempty" yaml:"wrapper,omitempty"`
}

// TelemetryConfig enables the telemetry sidecar wiring.
type TelemetryConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Port    int  `json:"port,omitempty" yaml:"port,omitempty"`
}

// PostProcess is an optional hook the executor runs after a run settles.
type PostProcess struct {
	Script        string `json:"script,omitempty" yaml:"script,omitempty"`
	StopOnFailure bool   `json:"stop_on_failure,omitempty" yaml:"stop_on_failure,omitempty"`
}

// GroupPlan is the plan-file form of a scheduler submission group.
type GroupPlan struct {
	Name                 string      `json:"name" yaml:"name"`
	Resources            Resources   `json:"resources" yaml:"resources"`
	KillOnPartialFailure bool        `json:"kill_on_partial_failure,omitempty" yaml:"kill_on_partial_failure,omitempty"`
	PostProcess          PostProcess `json:"post_process,omitempty" yaml:"post_process,omitempty"`
	Runs                 []Run       `json:"runs" yaml:"runs"`
}

// Default values for optional plan fields.
const (
	DefaultVersion          = "1.0"
	DefaultUser             = "default"
	DefaultOutput           = "campaign"
	DefaultScheduler        = "local"
	DefaultRunner           = "none"
	DefaultMachine          = "local"
	DefaultProcessesPerNode = 1
	DefaultTelemetryPort    = 22500
)

// ApplyDefaults fills in default values for optional fields.
func (p *Plan) ApplyDefaults(user string) {
	if p.User == "" {
		p.User = user
	}
	if p.User == "" {
		p.User = DefaultUser
	}
	if p.Output == "" {
		p.Output = DefaultOutput
	}
	if p.Scheduler.Name == "" {
		p.Scheduler.Name = DefaultScheduler
	}
	if p.Scheduler.Runner == "" {
		p.Scheduler.Runner = DefaultRunner
	}
	if p.Machine.Name == "" {
		p.Machine.Name = DefaultMachine
	}
	if p.Machine.ProcessesPerNode == 0 {
		p.Machine.ProcessesPerNode = DefaultProcessesPerNode
	}
	if p.Telemetry.Port == 0 {
		p.Telemetry.Port = DefaultTelemetryPort
	}

	for gi := range p.Groups {
		res := &p.Groups[gi].Resources
		if res.ProcessesPerNode == 0 {
			res.ProcessesPerNode = p.Machine.ProcessesPerNode
		}
		if res.Nodes == 0 {
			res.Nodes = 1
		}
		if res.MaxProcs == 0 {
			res.MaxProcs = res.Nodes * res.ProcessesPerNode
		}
	}
}

// ResolvePaths makes Output, ProfileConfig and every run input absolute,
// interpreting relative paths against baseDir.
func (p *Plan) ResolvePaths(baseDir string) error {
	resolve := func(path string) (string, error) {
		if path == "" || filepath.IsAbs(path) {
			return path, nil
		}
		return filepath.Abs(filepath.Join(baseDir, path))
	}

	var err error
	if p.Output, err = resolve(p.Output); err != nil {
		return fmt.Errorf("resolve output: %w", err)
	}
	if p.ProfileConfig, err = resolve(p.ProfileConfig); err != nil {
		return fmt.Errorf("resolve profile_config: %w", err)
	}
	for gi := range p.Groups {
		for ri := range p.Groups[gi].Runs {
			run := &p.Groups[gi].Runs[ri]
			for ii, in := range run.Inputs {
				if run.Inputs[ii], err = resolve(in); err != nil {
					return fmt.Errorf("resolve input %q of run %s: %w", in, run.ID, err)
				}
			}
			if run.Path, err = resolve(run.Path); err != nil {
				return fmt.Errorf("resolve path of run %s: %w", run.ID, err)
			}
		}
	}
	return nil
}

// GroupDir returns the directory of the named group in the campaign tree.
func (p *Plan) GroupDir(group string) string {
	return filepath.Join(p.Output, p.User, group)
}

// BuildGroups converts the plan groups into materializable Groups.
//
// Runs without an explicit path are placed in <group_dir>/<run_id>. Runs
// are numbered by their position in the plan group.
func (p *Plan) BuildGroups() []*Group {
	out := make([]*Group, 0, len(p.Groups))
	for _, gp := range p.Groups {
		g := &Group{
			Campaign:  p.Campaign,
			Name:      gp.Name,
			Dir:       p.GroupDir(gp.Name),
			Resources: gp.Resources,
			Runs:      make([]Run, len(gp.Runs)),
		}
		for i, r := range gp.Runs {
			if r.Path == "" {
				r.Path = g.RunPath(r.ID)
			}
			r.Seq = i + 1
			g.Runs[i] = r
		}
		out = append(out, g)
	}
	return out
}

// FindGroup returns the plan group with the given name.
func (p *Plan) FindGroup(name string) (*GroupPlan, bool) {
	for i := range p.Groups {
		if p.Groups[i].Name == name {
			return &p.Groups[i], true
		}
	}
	return nil, false
}
