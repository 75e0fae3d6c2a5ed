package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrUnsupportedRunner is returned for an unknown runner name.
var ErrUnsupportedRunner = errors.New("unsupported runner")

// Runner wraps an invocation's argument vector with a parallel launcher.
type Runner interface {
	Name() string
	Wrap(nprocs int, argv []string) []string
}

type launcher struct {
	name   string
	prefix []string
	npFlag string
}

func (l launcher) Name() string {
	return l.name
}

func (l launcher) Wrap(nprocs int, argv []string) []string {
	if len(l.prefix) == 0 {
		return append([]string(nil), argv...)
	}
	out := make([]string, 0, len(l.prefix)+2+len(argv))
	out = append(out, l.prefix...)
	out = append(out, l.npFlag, strconv.Itoa(nprocs))
	return append(out, argv...)
}

var runners = map[string]launcher{
	"none":    {name: "none"},
	"mpirun":  {name: "mpirun", prefix: []string{"mpirun"}, npFlag: "-n"},
	"mpiexec": {name: "mpiexec", prefix: []string{"mpiexec"}, npFlag: "-n"},
	"srun":    {name: "srun", prefix: []string{"srun"}, npFlag: "-n"},
	"aprun":   {name: "aprun", prefix: []string{"aprun"}, npFlag: "-n"},
}

// NewRunner returns the named runner.
func NewRunner(name string) (Runner, error) {
	if name == "" {
		name = "none"
	}
	r, ok := runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedRunner, name, Runners())
	}
	return r, nil
}

// Runners lists the supported runner names.
func Runners() []string {
	out := make([]string, 0, len(runners))
	for name := range runners {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
