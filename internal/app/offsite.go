package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/esdb-backup/internal/archive"
	"github.com/rowjay/esdb-backup/internal/cryptoutil"
	"github.com/rowjay/esdb-backup/internal/storage"
	"github.com/rowjay/esdb-backup/internal/store"
	"github.com/rowjay/esdb-backup/internal/util"
	"github.com/rowjay/esdb-backup/internal/version"
)

// OffsiteCopy is one archive held by the offsite store.
type OffsiteCopy struct {
	Archive   string
	Key       string
	Size      int64
	Modified  time.Time
	Encrypted bool
	Version   string
}

func (a *App) offsiteKey() ([]byte, error) {
	if !a.Cfg.Offsite.Encrypt {
		return nil, nil
	}
	if a.Cfg.Offsite.EncryptionKey == "" {
		return nil, fmt.Errorf("offsite encryption is enabled but no encryption_key is set")
	}
	return cryptoutil.ParseKey(a.Cfg.Offsite.EncryptionKey)
}

// replicate uploads arch and its manifest to the offsite store, then prunes
// remote copies past offsite.keep_days. It returns the object key.
func (a *App) replicate(ctx context.Context, arch store.Archive) (string, error) {
	if a.Offsite == nil {
		return "", ErrOffsiteDisabled
	}
	keyBytes, err := a.offsiteKey()
	if err != nil {
		return "", err
	}
	key := util.BuildObjectKey(a.Cfg.Offsite.Prefix, arch.Name, keyBytes != nil)

	err = util.Retry(ctx, a.Cfg.Offsite.RetryCount, a.Cfg.Offsite.RetryBackoff, func() error {
		return a.upload(ctx, arch.Path, key, keyBytes)
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	manifest := storage.Manifest{
		Archive:     arch.Name,
		Key:         key,
		Version:     arch.Version,
		SizeBytes:   arch.Size,
		Encrypted:   keyBytes != nil,
		CreatedAt:   arch.Created.UTC(),
		UploadedAt:  a.now().UTC(),
		ToolVersion: version.Version,
	}
	if err := a.writeManifest(ctx, manifest); err != nil {
		a.Log.Warn().Err(err).Str("key", key).Msg("failed to write manifest")
	}
	a.Log.Info().Str("key", key).Bool("encrypted", manifest.Encrypted).Msg("archive replicated offsite")

	if err := a.pruneOffsite(ctx); err != nil {
		a.Log.Warn().Err(err).Msg("failed to prune offsite copies")
	}
	return key, nil
}

// upload streams the file at path into the store, encrypting on the way when
// keyBytes is set.
func (a *App) upload(ctx context.Context, path, key string, keyBytes []byte) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	pipeReader, pipeWriter := io.Pipe()
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer pipeReader.Close()
		return a.Offsite.Put(egCtx, key, pipeReader, -1, map[string]string{"esbackup-archive": "true"})
	})

	eg.Go(func() error {
		writer := io.Writer(pipeWriter)
		closers := []io.Closer{pipeWriter}
		if keyBytes != nil {
			encWriter, err := cryptoutil.EncryptWriter(writer, keyBytes)
			if err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
			writer = encWriter
			closers = append(closers, encWriter)
		}
		if _, err := io.Copy(writer, src); err != nil {
			_ = pipeWriter.CloseWithError(err)
			return err
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
		}
		return nil
	})

	return eg.Wait()
}

func (a *App) writeManifest(ctx context.Context, manifest storage.Manifest) error {
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	key := storage.ManifestKey(manifest.Key)
	return a.Offsite.Put(ctx, key, strings.NewReader(string(payload)), int64(len(payload)), map[string]string{"esbackup-manifest": "true"})
}

func (a *App) readManifest(ctx context.Context, key string) (storage.Manifest, error) {
	reader, err := a.Offsite.Get(ctx, storage.ManifestKey(key))
	if err != nil {
		return storage.Manifest{}, err
	}
	defer reader.Close()
	var manifest storage.Manifest
	if err := json.NewDecoder(reader).Decode(&manifest); err != nil {
		return storage.Manifest{}, err
	}
	return manifest, nil
}

// pruneOffsite deletes remote archives and their manifests older than
// offsite.keep_days. Zero keeps everything.
func (a *App) pruneOffsite(ctx context.Context) error {
	keepDays := a.Cfg.Offsite.KeepDays
	if keepDays <= 0 {
		return nil
	}
	copies, err := a.ListOffsite(ctx)
	if err != nil {
		return err
	}
	cutoff := a.now().Add(-time.Duration(keepDays) * 24 * time.Hour)
	for _, c := range copies {
		if !c.Modified.Before(cutoff) {
			continue
		}
		if err := a.Offsite.Delete(ctx, c.Key); err != nil {
			return fmt.Errorf("delete %s: %w", c.Key, err)
		}
		if err := a.Offsite.Delete(ctx, storage.ManifestKey(c.Key)); err != nil {
			a.Log.Warn().Err(err).Str("key", c.Key).Msg("failed to delete manifest")
		}
		a.Log.Info().Str("key", c.Key).Msg("pruned offsite copy")
	}
	return nil
}

// ListOffsite returns the archives held offsite, newest first.
func (a *App) ListOffsite(ctx context.Context) ([]OffsiteCopy, error) {
	if a.Offsite == nil {
		return nil, ErrOffsiteDisabled
	}
	objects, err := a.Offsite.List(ctx, strings.Trim(a.Cfg.Offsite.Prefix, "/"))
	if err != nil {
		return nil, err
	}
	var copies []OffsiteCopy
	for _, obj := range objects {
		if obj.IsManifest {
			continue
		}
		name, encrypted := util.ArchiveFromKey(obj.Key)
		if !store.ValidArchiveName(name) {
			continue
		}
		c := OffsiteCopy{
			Archive:   name,
			Key:       obj.Key,
			Size:      obj.Size,
			Modified:  obj.Modified,
			Encrypted: encrypted,
			Version:   store.UnknownVersion,
		}
		if m, err := a.readManifest(ctx, obj.Key); err == nil && m.Version != "" {
			c.Version = m.Version
		}
		copies = append(copies, c)
	}
	sort.Slice(copies, func(i, j int) bool { return copies[i].Archive > copies[j].Archive })
	return copies, nil
}

// FetchOffsite downloads the named archive into the backup directory unless
// it is already there, decrypting it when it was stored encrypted.
func (a *App) FetchOffsite(ctx context.Context, name string) (store.Archive, error) {
	if a.Offsite == nil {
		return store.Archive{}, ErrOffsiteDisabled
	}
	if _, err := store.ParseArchiveName(name); err != nil {
		return store.Archive{}, err
	}
	if arch, err := a.Store.Check(name); err == nil {
		return arch, nil
	}

	var found *OffsiteCopy
	for _, encrypted := range []bool{true, false} {
		key := util.BuildObjectKey(a.Cfg.Offsite.Prefix, name, encrypted)
		ok, err := a.Offsite.Exists(ctx, key)
		if err != nil {
			return store.Archive{}, err
		}
		if ok {
			found = &OffsiteCopy{Archive: name, Key: key, Encrypted: encrypted}
			break
		}
	}
	if found == nil {
		return store.Archive{}, fmt.Errorf("%w offsite: %s", store.ErrArchiveNotFound, name)
	}

	if err := a.Store.Ensure(); err != nil {
		return store.Archive{}, err
	}
	err := util.Retry(ctx, a.Cfg.Offsite.RetryCount, a.Cfg.Offsite.RetryBackoff, func() error {
		return a.download(ctx, *found, a.Store.Path(name))
	})
	if err != nil {
		return store.Archive{}, fmt.Errorf("download %s: %w", found.Key, err)
	}

	if m, err := a.readManifest(ctx, found.Key); err == nil && m.Version != "" && m.Version != store.UnknownVersion {
		if err := a.Store.WriteVersion(name, m.Version); err != nil {
			a.Log.Warn().Err(err).Str("archive", name).Msg("failed to write version file")
		}
	}
	a.Log.Info().Str("key", found.Key).Str("archive", name).Msg("archive fetched from offsite")
	return a.Store.Check(name)
}

func (a *App) download(ctx context.Context, c OffsiteCopy, final string) error {
	reader, err := a.Offsite.Get(ctx, c.Key)
	if err != nil {
		return err
	}
	defer reader.Close()

	payload := io.Reader(reader)
	if c.Encrypted {
		if a.Cfg.Offsite.EncryptionKey == "" {
			return fmt.Errorf("archive %s is encrypted but no offsite encryption_key is set", c.Key)
		}
		keyBytes, err := cryptoutil.ParseKey(a.Cfg.Offsite.EncryptionKey)
		if err != nil {
			return err
		}
		payload, err = cryptoutil.DecryptReader(payload, keyBytes)
		if err != nil {
			return err
		}
	}

	tmp := archive.TempPath(final)
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, payload); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, final)
}
