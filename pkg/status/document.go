// Package status infers the lifecycle of scheduler submission groups from the
// files the executor and schedulers leave in a campaign directory, and
// renders operator-facing reports from them.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrMalformedStatus is returned when a status document cannot be parsed.
var ErrMalformedStatus = errors.New("malformed status document")

// State is the per-run execution state written by the executor.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateDone       State = "done"
	StateKilled     State = "killed"
)

// States returns the four known run states in sorted order.
func States() []State {
	return []State{StateDone, StateKilled, StateNotStarted, StateRunning}
}

// Terminal reports whether the run will not change state again.
func (s State) Terminal() bool {
	return s == StateDone || s == StateKilled
}

// ReasonSucceeded is the reason recorded for runs that finished cleanly.
const ReasonSucceeded = "succeeded"

// Record is the executor-written outcome of one run.
type Record struct {
	State       State          `json:"state"`
	Reason      string         `json:"reason,omitempty"`
	ReturnCodes map[string]int `json:"return_codes,omitempty"`
}

// Document maps run ids to their records.
type Document map[string]Record

// ParseDocument decodes a status document.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}
	if doc == nil {
		// "null" decodes without error but carries no runs.
		doc = Document{}
	}
	return doc, nil
}

// LoadDocument reads and decodes the status document at path.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
