package app

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCleanupTarget(t *testing.T) {
	for in, want := range map[string]CleanupTarget{"": CleanupAll, "data": CleanupData, "logs": CleanupLogs, "all": CleanupAll} {
		got, err := ParseCleanupTarget(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseCleanupTarget("everything")
	require.Error(t, err)
}

func TestCleanupTargets(t *testing.T) {
	cases := []struct {
		target    CleanupTarget
		dataGone  bool
		logsGone  bool
		stopsServ bool
	}{
		{target: CleanupData, dataGone: true, stopsServ: true},
		{target: CleanupLogs, logsGone: true},
		{target: CleanupAll, dataGone: true, logsGone: true, stopsServ: true},
	}
	for _, tc := range cases {
		t.Run(string(tc.target), func(t *testing.T) {
			f := newFixture(t)
			writeTree(t, f.cfg.Paths.DataDir, sampleData())
			writeTree(t, f.cfg.Paths.LogsDir, map[string]string{"log-2025-01-01/node.log": "log line"})

			res, err := f.app.Cleanup(context.Background(), CleanupOptions{Target: tc.target})
			require.NoError(t, err)
			require.Equal(t, tc.dataGone, len(dirEntries(t, f.cfg.Paths.DataDir)) == 0)
			require.Equal(t, tc.logsGone, len(dirEntries(t, f.cfg.Paths.LogsDir)) == 0)
			require.Equal(t, tc.stopsServ, f.srv.Called("stop"))
			require.Equal(t, tc.stopsServ, res.ServerWasRunning)
			require.False(t, f.srv.Called("start"))

			// The directories themselves survive.
			require.DirExists(t, f.cfg.Paths.DataDir)
			require.DirExists(t, f.cfg.Paths.LogsDir)
		})
	}
}

func TestCleanupBacksUpFirstAndRestarts(t *testing.T) {
	f := newFixture(t)
	writeTree(t, f.cfg.Paths.DataDir, sampleData())

	res, err := f.app.Cleanup(context.Background(), CleanupOptions{Target: CleanupData, Backup: true, Restart: true})
	require.NoError(t, err)
	require.NotNil(t, res.Backup)
	require.FileExists(t, res.Backup.Path)
	require.Equal(t, sampleData(), archiveContents(t, res.Backup.Path, "backup-20250101-120000"))
	require.Empty(t, dirEntries(t, f.cfg.Paths.DataDir))
	require.True(t, res.Restarted)
	require.True(t, f.srv.Called("start"))
}

func TestCleanupAbortsWhenBackupFails(t *testing.T) {
	f := newFixture(t)
	writeTree(t, f.cfg.Paths.DataDir, sampleData())
	require.NoError(t, os.MkdirAll(filepath.Dir(f.cfg.Global.LockFile), 0o755))
	require.NoError(t, os.WriteFile(f.cfg.Global.LockFile, []byte(strconv.Itoa(os.Getpid())), 0o644))

	_, err := f.app.Cleanup(context.Background(), CleanupOptions{Target: CleanupAll, Backup: true})
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Equal(t, sampleData(), readTree(t, f.cfg.Paths.DataDir))
	require.False(t, f.srv.Called("stop"))
}
