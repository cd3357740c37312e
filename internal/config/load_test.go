package config

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 7, cfg.Backup.RetentionDays)
	require.Equal(t, 30*time.Second, cfg.Server.StopTimeout)
	require.Equal(t, 60*time.Second, cfg.Server.HealthTimeout)
	require.Equal(t, 24*time.Hour, cfg.Restore.SnapshotMaxAge)
	require.Equal(t, "chaser.chk", cfg.Restore.TruncateFromFile)
	require.Equal(t, "truncate.chk", cfg.Restore.TruncateFile)
	require.Equal(t, -1, cfg.Restore.OwnerUID)
	require.Equal(t, filepath.Join("backups", ".journal.db"), filepath.Clean(cfg.Paths.Journal))
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "esbackup.yaml")
	body := []byte(`
paths:
  data_dir: /srv/es/data
  backup_dir: /srv/es/backups
  compose_file: /srv/es/docker-compose.yml
backup:
  retention_days: 14
server:
  stop_timeout: 10s
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("ESB_SERVER_SERVICE", "esdb")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/srv/es/data", cfg.Paths.DataDir)
	require.Equal(t, 14, cfg.Backup.RetentionDays)
	require.Equal(t, 10*time.Second, cfg.Server.StopTimeout)
	require.Equal(t, "esdb", cfg.Server.Service)
	require.Equal(t, "/srv/es/backups/.journal.db", cfg.Paths.Journal)
	require.Equal(t, "/srv/es", cfg.Migrations.Dir)
}

func TestLoadEncryptedConfig(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "esbackup.yaml")
	sealed := filepath.Join(dir, "esbackup.yaml.enc")
	require.NoError(t, os.WriteFile(plain, []byte("backup:\n  retention_days: 3\n"), 0o600))

	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	key := base64.StdEncoding.EncodeToString(raw)

	require.NoError(t, EncryptConfigFile(plain, sealed, key))
	t.Setenv("ESB_CONFIG_KEY", key)

	cfg, err := Load(sealed)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Backup.RetentionDays)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
