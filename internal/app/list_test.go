package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.Store.Ensure())
	for _, name := range []string{
		"backup-20241230-120000.tar.gz",
		"backup-20241231-120000.tar.gz",
		"backup-20241229-120000.tar.gz",
		"random.tar.gz",
	} {
		require.NoError(t, os.WriteFile(f.app.Store.Path(name), []byte("12345"), 0o644))
	}
	require.NoError(t, f.app.Store.WriteVersion("backup-20241231-120000.tar.gz", "24.10.0"))

	res, err := f.app.List(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Archives, 3)
	require.Equal(t, "backup-20241231-120000.tar.gz", res.Archives[0].Name)
	require.Equal(t, "24.10.0", res.Archives[0].Version)
	require.Equal(t, "unknown", res.Archives[1].Version)
	require.Equal(t, "backup-20241229-120000.tar.gz", res.Archives[2].Name)
	require.Equal(t, 3, res.Summary.Count)
	require.EqualValues(t, 15, res.Summary.TotalBytes)
}

func TestListEmpty(t *testing.T) {
	f := newFixture(t)
	res, err := f.app.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Archives)
	require.Zero(t, res.Summary.Count)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	rep, err := f.app.Status(context.Background())
	require.NoError(t, err)
	require.True(t, rep.Fresh)
	require.Nil(t, rep.Latest)
	require.Nil(t, rep.Lock)

	backup := takeBackup(t, f)
	rep, err = f.app.Status(context.Background())
	require.NoError(t, err)
	require.False(t, rep.Fresh)
	require.Len(t, rep.Inventory.Checkpoints, 4)
	require.Len(t, rep.Inventory.Chunks, 2)
	require.True(t, rep.ServerRunning)
	require.True(t, rep.ServerHealthy)
	require.Equal(t, 1, rep.Archives.Count)
	require.NotNil(t, rep.Latest)
	require.Equal(t, backup.Name, rep.Latest.Name)
}
