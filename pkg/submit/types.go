package submit

import "time"

// State is the lifecycle state of a submission as seen from this host.
//
// NOTE: These values are persisted in submission.json and are part of the
// stable on-disk contract.
type State string

const (
	StateSubmitted State = "submitted"
	StateFailed    State = "failed"

	// StateExited is reported for local submissions whose process is gone.
	// Whether the runs succeeded is recorded in the group status document.
	StateExited State = "exited"

	// StateFinished is reported once every run of the group is done.
	StateFinished State = "finished"

	// StateSuperseded is reported when the group's job-id file no longer
	// names this submission's job: the group was resubmitted or reset.
	StateSuperseded State = "superseded"
)

// Record is the persistent record of one submission of a group.
//
// The schema is designed for backward-compatible extension (additive fields).
type Record struct {
	SubmissionID string    `json:"submission_id"`
	GroupDir     string    `json:"group_dir"`
	State        State     `json:"state"`
	Backend      string    `json:"backend,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	PID          int       `json:"pid,omitempty"`
	ExitCode     int       `json:"exit_code"`
	Error        string    `json:"error,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`

	CheckedAt  *time.Time `json:"checked_at,omitempty"`
	OutputPath string     `json:"output_path,omitempty"`
}
