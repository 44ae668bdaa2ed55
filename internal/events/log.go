package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/refactorswarm/swarm/internal/fileutil"
)

// Log is the experiment log: a single JSON array file. Every Record rewrites
// the whole file through a temp file and rename, serialised by a mutex, so
// concurrent agents and interrupted writes never leave interleaved JSON.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open returns a Log for path, creating an empty array file if none exists.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}
	l := &Log{path: path, now: time.Now}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := l.write(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat log %s: %w", path, err)
	}
	return l, nil
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// Record validates e, stamps it if needed, and appends it to the file.
func (l *Log) Record(e *Entry) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrMissingField)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		// A corrupt log is set aside rather than blocking the run.
		backup := fmt.Sprintf("%s.corrupt-%d", l.path, l.now().UnixNano())
		slog.Warn("experiment log unreadable, starting a new one", "path", l.path, "backup", backup, "error", err)
		if renameErr := os.Rename(l.path, backup); renameErr != nil {
			return fmt.Errorf("set aside corrupt log: %w", renameErr)
		}
		entries = nil
	}
	return l.write(append(entries, *e))
}

// Entries returns all persisted entries.
func (l *Log) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Clear truncates the log to an empty array.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(nil)
}

func (l *Log) load() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log %s: %w", l.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse log %s: %w", l.path, err)
	}
	return entries, nil
}

func (l *Log) write(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	if err := fileutil.WriteAtomic(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// Summary counts entries by agent, action and status.
type Summary struct {
	Total       int                `json:"total"`
	ByAgent     map[string]int     `json:"by_agent"`
	ByAction    map[ActionType]int `json:"by_action"`
	ByStatus    map[Status]int     `json:"by_status"`
	SuccessRate float64            `json:"success_rate"`
}

// Summarize builds a Summary over entries.
func Summarize(entries []Entry) Summary {
	s := Summary{
		Total:    len(entries),
		ByAgent:  map[string]int{},
		ByAction: map[ActionType]int{},
		ByStatus: map[Status]int{},
	}
	for _, e := range entries {
		s.ByAgent[e.Agent]++
		s.ByAction[e.Action]++
		s.ByStatus[e.Status]++
	}
	decided := s.ByStatus[StatusSuccess] + s.ByStatus[StatusFailure]
	if decided > 0 {
		s.SuccessRate = float64(s.ByStatus[StatusSuccess]) / float64(decided)
	}
	return s
}
