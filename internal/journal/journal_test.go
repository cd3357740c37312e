package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, op := range []string{"backup", "restore", "backup"} {
		e, err := j.Record(Entry{Operation: op, Status: "success", StartedAt: start.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), e.Seq)
	}

	recent, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, uint64(3), recent[0].Seq)
	require.Equal(t, "restore", recent[1].Operation)

	all, err := j.Recent(0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	last, err := j.Last("restore")
	require.NoError(t, err)
	require.NotNil(t, last)
	require.Equal(t, uint64(2), last.Seq)

	none, err := j.Last("cleanup")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.Record(Entry{Operation: "backup", Status: "failed", Error: "already running"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	recent, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "already running", recent[0].Error)
}
