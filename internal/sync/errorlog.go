package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// Entry records one failed apply attempt.
type Entry struct {
	Run          string    `json:"run"`
	Round        int       `json:"round"`
	FailingPaths []string  `json:"failingPaths"`
	Exclusions   []string  `json:"exclusions"`
	Message      string    `json:"message,omitempty"`
	Time         time.Time `json:"time"`
}

// ErrorLog accumulates the failures of a single run.
type ErrorLog struct {
	run     string
	entries []Entry
	now     func() time.Time
}

// NewErrorLog creates an empty log for the run id
func NewErrorLog(run string) *ErrorLog {
	return &ErrorLog{run: run, now: time.Now}
}

// Add appends e, stamping the run id and time.
func (l *ErrorLog) Add(e Entry) {
	e.Run = l.run
	if e.Time.IsZero() {
		e.Time = l.now().UTC()
	}
	if e.FailingPaths == nil {
		e.FailingPaths = []string{}
	}
	l.entries = append(l.entries, e)
}

// Entries returns a copy of the recorded entries
func (l *ErrorLog) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Len is the number of recorded entries
func (l *ErrorLog) Len() int {
	return len(l.entries)
}

// Write stores the entries as a JSON array in root/name. Nothing is written
// for an empty log; the returned bool tells whether the file was written.
func (l *ErrorLog) Write(root, name string) (bool, error) {
	if len(l.entries) == 0 {
		return false, nil
	}
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to encode error log: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, name), append(data, '\n'), 0o644); err != nil {
		return false, fmt.Errorf("failed to write error log: %w", err)
	}
	return true, nil
}
