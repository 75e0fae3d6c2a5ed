package campaign

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Well-known filenames inside a group directory.
//
// NOTE: These names are shared with the workflow executor and the
// generated scripts. They are part of the stable on-disk contract.
const (
	JobIDFile      = "codar.cheetah.jobid.txt"
	SubmitOutFile  = "codar.cheetah.submit-output.txt"
	RunOutFile     = "codar.cheetah.run-output.txt"
	WalltimeFile   = "codar.cheetah.walltime.txt"
	ExecutorLog    = "codar.FOBrun.log"
	StatusFile     = "codar.workflow.status.json"
	FOBListFile    = "fobs.json"
	GroupEnvFile   = "group-env.sh"
	SubmitScript   = "submit.sh"
	MonitorScript  = "wait.sh"
	PlanRecordFile = "codar.cheetah.group.json"
)

// Well-known filenames inside a run directory.
const (
	RunCommandFile = "codar.cheetah.run-params.txt"
	RunParamsFile  = "codar.cheetah.run-params.json"
	RunFOBFile     = "codar.cheetah.fob.json"

	// StdoutPrefix and StderrPrefix are followed by ".<component>".
	StdoutPrefix = "codar.workflow.stdout"
	StderrPrefix = "codar.workflow.stderr"
)

// ProfileDirName returns the per-component profiling directory name.
func ProfileDirName(component string) string {
	return "codar.cheetah.tau-" + component
}

// StdoutName returns the captured stdout filename for a component.
func StdoutName(component string) string {
	return StdoutPrefix + "." + component
}

// StderrName returns the captured stderr filename for a component.
func StderrName(component string) string {
	return StderrPrefix + "." + component
}

// ReadJobID reads the group's job-id file and returns the id part.
func ReadJobID(groupDir string) (string, error) {
	_, id, err := ReadJobRef(groupDir)
	return id, err
}

// ReadJobRef reads the group's job-id file and returns the backend and id.
func ReadJobRef(groupDir string) (backend, id string, err error) {
	b, err := os.ReadFile(filepath.Join(groupDir, JobIDFile))
	if err != nil {
		return "", "", err
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return "", "", fmt.Errorf("%s is empty", JobIDFile)
	}
	backend, id = ParseJobRef(raw)
	return backend, id, nil
}

// ParseJobRef splits a "<backend>:<id>" job reference. A reference without
// a backend prefix is returned as the id.
func ParseJobRef(raw string) (backend, id string) {
	raw = strings.TrimSpace(raw)
	if b, rest, ok := strings.Cut(raw, ":"); ok {
		return strings.TrimSpace(b), strings.TrimSpace(rest)
	}
	return "", raw
}

// Exists reports whether path exists. Errors other than not-exist are
// treated as present so callers do not misclassify unreadable entries.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}

// SubDirs returns the sorted names of the immediate subdirectories of dir.
func SubDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
