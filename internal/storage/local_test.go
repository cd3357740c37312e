package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rowjay/esdb-backup/internal/config"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(t.TempDir())
	key := "esdb/backup-20250101-120000.tar.gz"

	require.NoError(t, l.Put(ctx, key, strings.NewReader("archive"), -1, nil))
	require.NoError(t, l.Put(ctx, ManifestKey(key), strings.NewReader("{}"), 2, nil))

	ok, err := l.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	r, err := l.Get(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, r.Close())
	require.NoError(t, err)
	require.Equal(t, "archive", string(body))

	objs, err := l.List(ctx, "esdb")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	manifests := 0
	for _, o := range objs {
		if o.IsManifest {
			manifests++
		}
	}
	require.Equal(t, 1, manifests)

	require.NoError(t, l.Delete(ctx, key))
	require.NoError(t, l.Delete(ctx, key))
	ok, err = l.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocalListMissingPrefix(t *testing.T) {
	objs, err := NewLocal(t.TempDir()).List(context.Background(), "nothing-here")
	require.NoError(t, err)
	require.Empty(t, objs)
}

func TestFactory(t *testing.T) {
	_, err := New(config.OffsiteConfig{Backend: "local"})
	require.Error(t, err)

	s, err := New(config.OffsiteConfig{Backend: "local", Local: config.LocalStore{Path: filepath.Join(t.TempDir(), "mirror")}})
	require.NoError(t, err)
	require.IsType(t, &Local{}, s)

	_, err = New(config.OffsiteConfig{Backend: "s3"})
	require.Error(t, err)

	_, err = New(config.OffsiteConfig{Backend: "ftp"})
	require.ErrorContains(t, err, "unsupported")
}
