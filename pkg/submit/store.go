package submit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/3leaps/gosweep/pkg/status"
)

// Store persists and loads submission records from an on-disk directory.
// Records still marked submitted are reconciled with their group directory
// whenever they are read.
//
// Directory layout:
//
//	<root>/<submission_id>/submission.json
//	<root>/<submission_id>/submit.log
//
// Root is expected to be under the app data dir.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) RecordDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) RecordPath(id string) string {
	return filepath.Join(s.RecordDir(id), "submission.json")
}

func (s *Store) OutputPath(id string) string {
	return filepath.Join(s.RecordDir(id), "submit.log")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("submission registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

func (s *Store) Write(record *Record) error {
	if record == nil {
		return fmt.Errorf("submission record is nil")
	}
	id := strings.TrimSpace(record.SubmissionID)
	if id == "" {
		return fmt.Errorf("submission_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	dir := s.RecordDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create submission dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal submission record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "submission.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp submission file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp submission file: %w", err)
	}

	if err := os.Rename(tmpName, s.RecordPath(id)); err != nil {
		return fmt.Errorf("rename submission file: %w", err)
	}
	return nil
}

func (s *Store) Get(id string) (*Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("submission_id is required")
	}
	b, err := os.ReadFile(s.RecordPath(id))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("submission.json is empty")
	}

	var record Record
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse submission.json: %w", err)
	}

	if reconcile(&record) {
		now := time.Now().UTC()
		record.CheckedAt = &now
		_ = s.Write(&record)
	}

	return &record, nil
}

// List returns all records, newest first.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read submissions root: %w", err)
	}

	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}

// History returns every record of groupDir, newest first.
func (s *Store) History(groupDir string) ([]Record, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	groupDir = filepath.Clean(groupDir)
	var out []Record
	for _, r := range records {
		if filepath.Clean(r.GroupDir) == groupDir {
			out = append(out, r)
		}
	}
	return out, nil
}

// Latest returns the newest record for groupDir, or nil when the group was
// never submitted through this registry.
func (s *Store) Latest(groupDir string) (*Record, error) {
	records, err := s.History(groupDir)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

// reconcile moves a submitted record forward from what its group directory
// shows now and reports whether the state changed:
//
//   - the job-id file names another job, or is gone: superseded
//   - every run in the status document is done: finished
//   - the local batch process has exited: exited
func reconcile(r *Record) bool {
	if r.State != StateSubmitted {
		return false
	}
	next := r.State
	rep, err := status.InspectGroup(r.GroupDir)
	switch {
	case r.JobID != "" && rep.JobID != r.JobID:
		next = StateSuperseded
	case err == nil && rep.Lifecycle == status.Done:
		next = StateFinished
	case r.PID > 0 && !isProcessAlive(r.PID):
		next = StateExited
	}
	if next == r.State {
		return false
	}
	r.State = next
	return true
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 is supported on unix; it checks for existence without sending a signal.
	if err := p.Signal(os.Signal(syscall.Signal(0))); err != nil {
		return false
	}
	return true
}
