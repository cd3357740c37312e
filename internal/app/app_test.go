package app

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/esdb-backup/internal/archive"
	"github.com/rowjay/esdb-backup/internal/config"
	"github.com/rowjay/esdb-backup/internal/journal"
	"github.com/rowjay/esdb-backup/internal/server/servertest"
)

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.Local)

type fixture struct {
	app  *App
	srv  *servertest.Fake
	cfg  *config.Config
	root string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(root, "data")
	cfg.Paths.BackupDir = filepath.Join(root, "backups")
	cfg.Paths.LogsDir = filepath.Join(root, "logs")
	cfg.Paths.TempDir = filepath.Join(root, "tmp")
	cfg.Paths.Journal = ""
	cfg.Global.LockFile = filepath.Join(root, "run", "esbackup.lock")
	cfg.Server.HealthInterval = 5 * time.Millisecond
	cfg.Server.HealthTimeout = 40 * time.Millisecond
	cfg.Offsite.RetryCount = 1
	require.NoError(t, os.MkdirAll(cfg.Paths.TempDir, 0o755))

	srv := &servertest.Fake{IsRunning: true}
	a := New(cfg, srv, zerolog.Nop(), nil)
	a.Now = func() time.Time { return testNow }
	return &fixture{app: a, srv: srv, cfg: cfg, root: root}
}

// sampleData is a small but complete data directory.
func sampleData() map[string]string {
	return map[string]string{
		"chaser.chk":          "chaser-0001",
		"writer.chk":          "writer-0001",
		"epoch.chk":           "epoch-0001",
		"truncate.chk":        "truncate-old",
		"chunk-000000.000000": "chunk zero",
		"chunk-000001.000000": "chunk one",
		"index/indexmap":      "index map",
		"index/stream-existence/streamExistenceFilter.chk": "filter checkpoint",
		"index/stream-existence/streamExistenceFilter.dat": "filter data",
		"index/scavenging/scavenging.db":                   "scavenge state",
	}
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
}

func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(body)
		return nil
	})
	require.NoError(t, err)
	return files
}

// archiveContents extracts an archive and returns the tree under top.
func archiveContents(t *testing.T, path, top string) map[string]string {
	t.Helper()
	dest := t.TempDir()
	_, err := archive.Extract(context.Background(), path, dest)
	require.NoError(t, err)
	return readTree(t, filepath.Join(dest, top))
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestStepErrorUnwraps(t *testing.T) {
	err := stepErr("extract archive", ErrInvalidArchive)
	var se *StepError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "extract archive", se.Step)
	require.ErrorIs(t, err, ErrInvalidArchive)
	require.NoError(t, stepErr("noop", nil))
}

func TestOperationsAreJournaled(t *testing.T) {
	f := newFixture(t)
	writeTree(t, f.cfg.Paths.DataDir, sampleData())
	j, err := journal.Open(filepath.Join(f.root, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	f.app.Journal = j

	res, err := f.app.Backup(context.Background(), BackupOptions{Version: "24.10.0"})
	require.NoError(t, err)

	_, err = f.app.Restore(context.Background(), RestoreOptions{File: "backup-19990101-000000.tar.gz"})
	require.Error(t, err)

	recent, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "restore", recent[0].Operation)
	require.Equal(t, "failed", recent[0].Status)
	require.NotEmpty(t, recent[0].Error)
	require.Equal(t, "backup", recent[1].Operation)
	require.Equal(t, "success", recent[1].Status)
	require.Equal(t, res.Name, recent[1].Archive)
	require.Equal(t, "24.10.0", recent[1].Version)

	rep, err := f.app.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Recent, 2)
	require.NotNil(t, rep.LastBackup)
	require.Equal(t, res.Name, rep.LastBackup.Archive)
	require.Equal(t, "success", rep.LastBackup.Status)
}
