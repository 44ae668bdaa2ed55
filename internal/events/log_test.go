package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "logs", "experiment_data.json"))
	require.NoError(t, err)
	return l
}

func TestOpenCreatesEmptyArray(t *testing.T) {
	l := openTemp(t)

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestRecordAppendsAndStamps(t *testing.T) {
	l := openTemp(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	require.NoError(t, l.Record(NewEntry("Auditor", "claude", ActionAnalysis, StatusSuccess, "Analyze a.py", "{}")))
	require.NoError(t, l.Record(NewEntry("Fixer", "claude", ActionFix, StatusSuccess, "Fix a.py", "2 fixes applied")))

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Auditor", entries[0].Agent)
	assert.Equal(t, ActionFix, entries[1].Action)
	assert.True(t, entries[0].Timestamp.Equal(fixed))

	// The file must stay a plain JSON array with ISO timestamps.
	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2026-01-02T03:04:05Z", raw[0]["timestamp"])
}

func TestRecordRejectsIncompleteEntry(t *testing.T) {
	l := openTemp(t)

	err := l.Record(NewEntry("Auditor", "claude", ActionAnalysis, StatusSuccess, "prompt", ""))
	require.ErrorIs(t, err, ErrMissingField)
	require.Error(t, l.Record(nil))

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected entries must not be persisted")
}

func TestConcurrentRecordsAreSerialised(t *testing.T) {
	l := openTemp(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := NewEntry("Judge", "pytest", ActionDebug, StatusInfo, fmt.Sprintf("validate file %d", i), "ok")
			assert.NoError(t, l.Record(e))
		}(i)
	}
	wg.Wait()

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestCorruptLogIsSetAside(t *testing.T) {
	l := openTemp(t)
	require.NoError(t, os.WriteFile(l.Path(), []byte("[{\"agent\": "), 0o644))

	require.NoError(t, l.Record(NewEntry("Auditor", "claude", ActionAnalysis, StatusSuccess, "Analyze a.py", "{}")))

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	matches, err := filepath.Glob(l.Path() + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestClear(t *testing.T) {
	l := openTemp(t)
	require.NoError(t, l.Record(NewEntry("Auditor", "claude", ActionAnalysis, StatusSuccess, "Analyze a.py", "{}")))

	require.NoError(t, l.Clear())

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSummarize(t *testing.T) {
	entries := []Entry{
		*NewEntry("Auditor", "claude", ActionAnalysis, StatusSuccess, "p", "r"),
		*NewEntry("Fixer", "claude", ActionFix, StatusFailure, "p", "r"),
		*NewEntry("Judge", "pytest", ActionDebug, StatusSuccess, "p", "r"),
		*NewEntry("Judge", "pytest", ActionGeneration, StatusInfo, "p", "r"),
	}

	s := Summarize(entries)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.ByAgent["Judge"])
	assert.Equal(t, 1, s.ByAction[ActionGeneration])
	assert.InDelta(t, 2.0/3.0, s.SuccessRate, 0.0001)
}
