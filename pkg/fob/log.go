package fob

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrDuplicate is returned when appending a descriptor whose id is already
// present in the log.
var ErrDuplicate = errors.New("descriptor already in log")

type span struct {
	off int64
	n   int
}

// Log is the append-only group-level descriptor file.
//
// On open, every complete line is indexed by descriptor id. A trailing
// line without a newline is the remnant of an interrupted append and is
// truncated, so the number of lines always equals the number of
// descriptors durably written.
//
// Log is safe for concurrent use; appends are serialized.
type Log struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	size  int64
	index map[string]span
	order []string
}

// OpenLog opens or creates the log at path and indexes existing entries.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open descriptor log: %w", err)
	}

	l := &Log{path: path, f: f, index: make(map[string]span)}
	if err := l.load(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) load() error {
	r := bufio.NewReader(l.f)
	var off int64
	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			if len(line) > 0 {
				// Torn write: drop the partial line.
				if terr := l.f.Truncate(off); terr != nil {
					return fmt.Errorf("truncate torn descriptor line: %w", terr)
				}
			}
			break
		}
		if err != nil {
			return fmt.Errorf("read descriptor log: %w", err)
		}

		d, derr := Decode(line)
		if derr != nil {
			return fmt.Errorf("%s line %d: %w", l.path, lineNo, derr)
		}
		if _, dup := l.index[d.ID]; dup {
			return fmt.Errorf("%s line %d: duplicate descriptor %s", l.path, lineNo, d.ID)
		}
		l.index[d.ID] = span{off: off, n: len(line) - 1}
		l.order = append(l.order, d.ID)
		off += int64(len(line))
	}

	l.size = off
	if _, err := l.f.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("seek descriptor log: %w", err)
	}
	return nil
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes the encoded descriptor line and syncs it to disk.
func (l *Log) Append(id string, line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return fmt.Errorf("descriptor log is closed")
	}
	if _, ok := l.index[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := l.f.WriteAt(buf, l.size); err != nil {
		return fmt.Errorf("append descriptor %s: %w", id, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync descriptor log: %w", err)
	}

	l.index[id] = span{off: l.size, n: len(line)}
	l.order = append(l.order, id)
	l.size += int64(len(buf))
	return nil
}

// Has reports whether a descriptor with id is in the log.
func (l *Log) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[id]
	return ok
}

// Len returns the number of descriptors in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// IDs returns descriptor ids in file order.
func (l *Log) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// Lookup reads the descriptor with id directly from its offset.
func (l *Log) Lookup(id string) (*Descriptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.index[id]
	if !ok {
		return nil, fmt.Errorf("descriptor %s not in log", id)
	}
	if l.f == nil {
		return nil, fmt.Errorf("descriptor log is closed")
	}
	buf := make([]byte, s.n)
	if _, err := l.f.ReadAt(buf, s.off); err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", id, err)
	}
	return Decode(buf)
}

// Close releases the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
