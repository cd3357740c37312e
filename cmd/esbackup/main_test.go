package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rowjay/esdb-backup/internal/config"
)

func TestApplyOverridesMovesJournal(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	applyOverrides(cfg, &rootFlags{LogLevel: "debug"}, &overrideFlags{BackupDir: dir, RetentionDays: 3})
	require.Equal(t, "debug", cfg.Global.LogLevel)
	require.Equal(t, 3, cfg.Backup.RetentionDays)
	require.Equal(t, filepath.Join(dir, ".journal.db"), cfg.Paths.Journal)
}

func TestConfirm(t *testing.T) {
	var prompt bytes.Buffer
	ok, err := confirm(strings.NewReader("YES\n"), &prompt, "Really?")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, prompt.String(), "Really?")

	ok, err = confirm(strings.NewReader(""), &prompt, "Really?")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteJSONSingleDocument(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeJSON(&out, backupResponse{}))
	require.Equal(t, "{\"file\":\"\"}\n", out.String())
}
