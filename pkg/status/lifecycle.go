package status

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/3leaps/gosweep/pkg/campaign"
)

// Lifecycle is the inferred state of a scheduler submission group.
type Lifecycle string

const (
	NotSubmitted Lifecycle = "NOT_SUBMITTED"
	NotStarted   Lifecycle = "NOT_STARTED"
	InProgress   Lifecycle = "IN_PROGRESS"
	Done         Lifecycle = "DONE"
)

// GroupReport is the status of one group directory.
type GroupReport struct {
	User      string    `json:"user"`
	Group     string    `json:"group"`
	Dir       string    `json:"dir"`
	Lifecycle Lifecycle `json:"lifecycle"`
	JobID     string    `json:"job_id,omitempty"`

	// Walltime is set when the batch script recorded its elapsed time.
	Walltime bool `json:"walltime_recorded"`

	Summary *Summary `json:"summary,omitempty"`
	Runs    Document `json:"-"`

	// Err is set when the group could not be inspected. The lifecycle is
	// then the last state that could be established.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Name returns "user/group".
func (r *GroupReport) Name() string {
	return r.User + "/" + r.Group
}

// Text returns the one-line summary of the group.
func (r *GroupReport) Text() string {
	if r.Err != nil {
		return "ERROR, " + r.Err.Error()
	}
	switch r.Lifecycle {
	case NotSubmitted:
		return "NOT SUBMITTED"
	case NotStarted:
		return "NOT STARTED"
	case InProgress:
		settled, total := 0, 0
		if r.Summary != nil {
			settled, total = r.Summary.Settled(), r.Summary.Total
		}
		return fmt.Sprintf("IN PROGRESS, job %s, %d / %d", r.JobID, settled, total)
	case Done:
		if r.Summary != nil && r.Summary.Failed() > 0 {
			return fmt.Sprintf("DONE, %d / %d failed", r.Summary.Failed(), r.Summary.Total)
		}
		return "DONE"
	}
	return string(r.Lifecycle)
}

// groupScan holds what a single pass over a group directory observed.
type groupScan struct {
	jobID    bool
	status   bool
	walltime bool
	summary  *Summary
}

// transition advances the lifecycle by one step when its check holds.
type transition struct {
	to    Lifecycle
	check func(p *groupScan) bool
}

// transitions are evaluated in order; the first failing check ends the
// walk and the last reached state is the group's lifecycle.
var transitions = []transition{
	{NotStarted, func(p *groupScan) bool { return p.jobID }},
	{InProgress, func(p *groupScan) bool { return p.status }},
	{Done, func(p *groupScan) bool {
		if p.summary.Total == 0 {
			return p.walltime
		}
		return p.summary.Complete()
	}},
}

// InspectGroup infers the lifecycle of the group directory at dir.
//
// A missing job-id file or status document is a lifecycle state, not an
// error. A malformed status document is returned as an error together with
// a report carrying the state reached so far.
func InspectGroup(dir string) (*GroupReport, error) {
	rep := &GroupReport{
		User:      filepath.Base(filepath.Dir(dir)),
		Group:     filepath.Base(dir),
		Dir:       dir,
		Lifecycle: NotSubmitted,
	}

	info, err := os.Stat(dir)
	if err != nil {
		return rep, err
	}
	if !info.IsDir() {
		return rep, fmt.Errorf("%s is not a directory", dir)
	}

	p := &groupScan{
		jobID:    campaign.Exists(filepath.Join(dir, campaign.JobIDFile)),
		status:   campaign.Exists(filepath.Join(dir, campaign.StatusFile)),
		walltime: campaign.Exists(filepath.Join(dir, campaign.WalltimeFile)),
	}
	rep.Walltime = p.walltime

	if p.jobID {
		// An empty id file is a submission still being recorded.
		if id, err := campaign.ReadJobID(dir); err == nil {
			rep.JobID = id
		}
	}

	if p.jobID && p.status {
		doc, err := LoadDocument(filepath.Join(dir, campaign.StatusFile))
		if err != nil {
			rep.Lifecycle = NotStarted
			return rep, err
		}
		sum := Aggregate(doc)
		p.summary = &sum
		rep.Runs, rep.Summary = doc, &sum
	}

	for _, t := range transitions {
		if !t.check(p) {
			break
		}
		rep.Lifecycle = t.to
	}
	return rep, nil
}
