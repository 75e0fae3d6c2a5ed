// Package fob defines the job descriptor ("FOB") consumed by the workflow
// executor, and the append-only line-delimited log that aggregates the
// descriptors of a scheduler submission group.
//
// Each descriptor is serialized as a single line of JSON. The group-level
// file holds one descriptor per line so the executor can stream it.
package fob

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Invocation is the executor-facing form of one code invocation. Env values
// are strings or numbers; counts and ports are written as numbers.
type Invocation struct {
	Name       string         `json:"name"`
	Exe        string         `json:"exe"`
	Args       []string       `json:"args"`
	NProcs     int            `json:"nprocs"`
	SleepAfter int            `json:"sleep_after"`
	Env        map[string]any `json:"env"`

	// Timeout is in seconds. Omitted when the invocation has no timeout.
	Timeout *int `json:"timeout,omitempty"`
}

// Descriptor is the unit of work for the workflow executor: one run.
//
// NOTE: Field names are the executor's wire contract.
type Descriptor struct {
	ID                       string       `json:"id"`
	Runs                     []Invocation `json:"runs"`
	WorkingDir               string       `json:"working_dir"`
	KillOnPartialFailure     bool         `json:"kill_on_partial_failure"`
	PostProcessScript        string       `json:"post_process_script"`
	PostProcessStopOnFailure bool         `json:"post_process_stop_on_failure"`
	PostProcessArgs          []string     `json:"post_process_args"`
}

// Encode serializes d as a single line of JSON without the trailing newline.
func Encode(d *Descriptor) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("descriptor is nil")
	}
	if d.ID == "" {
		return nil, fmt.Errorf("descriptor id is required")
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor %s: %w", d.ID, err)
	}
	return b, nil
}

// Decode parses one serialized descriptor line.
func Decode(line []byte) (*Descriptor, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty descriptor line")
	}
	var d Descriptor
	if err := json.Unmarshal(line, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	if d.ID == "" {
		return nil, fmt.Errorf("descriptor without id")
	}
	return &d, nil
}

// WriteFile writes the encoded descriptor line to path atomically.
func WriteFile(path string, line []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(append([]byte{}, line...), '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp descriptor: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod descriptor: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename descriptor: %w", err)
	}
	return nil
}

// ReadFile reads a standalone descriptor file.
func ReadFile(path string) (*Descriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}
