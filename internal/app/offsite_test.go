package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rowjay/esdb-backup/internal/storage"
)

func withLocalOffsite(t *testing.T, f *fixture, encrypt bool) string {
	t.Helper()
	mirror := filepath.Join(f.root, "mirror")
	f.cfg.Offsite.Enabled = true
	f.cfg.Offsite.Backend = "local"
	f.cfg.Offsite.Local.Path = mirror
	f.cfg.Offsite.Prefix = "esdb/node1"
	if encrypt {
		raw := make([]byte, 32)
		_, err := rand.Read(raw)
		require.NoError(t, err)
		f.cfg.Offsite.Encrypt = true
		f.cfg.Offsite.EncryptionKey = "hex:" + hex.EncodeToString(raw)
	}
	s, err := storage.New(f.cfg.Offsite)
	require.NoError(t, err)
	f.app.Offsite = s
	return mirror
}

func TestOffsiteReplicateAndFetch(t *testing.T) {
	for _, encrypt := range []bool{false, true} {
		name := "plain"
		if encrypt {
			name = "encrypted"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			mirror := withLocalOffsite(t, f, encrypt)
			backup := takeBackup(t, f)

			wantKey := "esdb/node1/" + backup.Name
			if encrypt {
				wantKey += ".enc"
			}
			require.Equal(t, wantKey, backup.OffsiteKey)
			require.FileExists(t, filepath.Join(mirror, filepath.FromSlash(wantKey)))
			require.FileExists(t, filepath.Join(mirror, filepath.FromSlash(storage.ManifestKey(wantKey))))

			copies, err := f.app.ListOffsite(context.Background())
			require.NoError(t, err)
			require.Len(t, copies, 1)
			require.Equal(t, backup.Name, copies[0].Archive)
			require.Equal(t, encrypt, copies[0].Encrypted)
			require.Equal(t, "24.10.0", copies[0].Version)

			original, err := os.ReadFile(backup.Path)
			require.NoError(t, err)
			require.NoError(t, f.app.Store.Remove(backup.Name))

			arch, err := f.app.FetchOffsite(context.Background(), backup.Name)
			require.NoError(t, err)
			fetched, err := os.ReadFile(arch.Path)
			require.NoError(t, err)
			require.Equal(t, original, fetched)
			require.Equal(t, "24.10.0", arch.Version)

			_, err = f.app.Restore(context.Background(), RestoreOptions{File: arch.Name})
			require.NoError(t, err)
		})
	}
}

func TestOffsiteFailureDoesNotFailBackup(t *testing.T) {
	f := newFixture(t)
	withLocalOffsite(t, f, false)
	f.cfg.Offsite.Encrypt = true
	f.cfg.Offsite.EncryptionKey = ""

	backup := takeBackup(t, f)
	require.FileExists(t, backup.Path)
	require.Empty(t, backup.OffsiteKey)
}

func TestOffsiteDisabled(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.ListOffsite(context.Background())
	require.ErrorIs(t, err, ErrOffsiteDisabled)
	_, err = f.app.FetchOffsite(context.Background(), "backup-20250101-120000.tar.gz")
	require.ErrorIs(t, err, ErrOffsiteDisabled)
}

func TestFetchOffsiteMissing(t *testing.T) {
	f := newFixture(t)
	withLocalOffsite(t, f, false)
	_, err := f.app.FetchOffsite(context.Background(), "backup-20250101-120000.tar.gz")
	require.Error(t, err)
	_, err = f.app.FetchOffsite(context.Background(), "nope.tar.gz")
	require.Error(t, err)
}
