// Package archive writes and reads the gzip-compressed tarballs that hold a
// data directory snapshot under a single top-level directory.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Stats summarises a write or an extraction.
type Stats struct {
	Files int
	Dirs  int
	Bytes int64
}

// TempPath is the name used while an archive is being written. It lives in
// the same directory as the final file so the closing rename is atomic, and
// its leading dot keeps it out of archive listings.
func TempPath(final string) string {
	return filepath.Join(filepath.Dir(final), "."+filepath.Base(final)+".tmp")
}

// CreateAtomic archives srcDir as final. Entries are stored under
// filepath.Base(srcDir)/. The archive is written to TempPath(final), synced
// and renamed into place, so final never exists half written. The temporary
// file is removed on any failure.
func CreateAtomic(ctx context.Context, srcDir, final string, level int) (stats Stats, err error) {
	tmp := TempPath(final)
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return stats, fmt.Errorf("create temporary archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	if level == 0 {
		level = gzip.DefaultCompression
	}
	gz, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return stats, err
	}
	tw := tar.NewWriter(gz)

	if stats, err = writeTree(ctx, tw, srcDir); err != nil {
		return stats, err
	}
	// Close in reverse order of construction.
	if err = tw.Close(); err != nil {
		return stats, fmt.Errorf("finish tar stream: %w", err)
	}
	if err = gz.Close(); err != nil {
		return stats, fmt.Errorf("finish gzip stream: %w", err)
	}
	if err = out.Sync(); err != nil {
		return stats, fmt.Errorf("sync archive: %w", err)
	}
	if err = out.Close(); err != nil {
		return stats, err
	}
	if err = os.Rename(tmp, final); err != nil {
		return stats, fmt.Errorf("finalize archive: %w", err)
	}
	return stats, nil
}

func writeTree(ctx context.Context, tw *tar.Writer, srcDir string) (Stats, error) {
	var stats Stats
	root := filepath.Clean(srcDir)
	top := filepath.Base(root)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := path.Join(top, filepath.ToSlash(rel))

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", name, err)
		}
		if info.IsDir() {
			stats.Dirs++
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		n, err := io.Copy(tw, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		stats.Files++
		stats.Bytes += n
		return nil
	})
	return stats, err
}

// Extract unpacks the archive at src into destDir, which must exist.
// Entries that would escape destDir are rejected; anything other than
// directories and regular files is skipped.
func Extract(ctx context.Context, src, destDir string) (Stats, error) {
	var stats Stats
	f, err := os.Open(src)
	if err != nil {
		return stats, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return stats, fmt.Errorf("read gzip header: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read tar entry: %w", err)
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return stats, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return stats, err
			}
			stats.Dirs++
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return stats, err
			}
			n, err := writeFile(target, tr, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return stats, fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			if !hdr.ModTime.IsZero() {
				_ = os.Chtimes(target, hdr.ModTime, hdr.ModTime)
			}
			stats.Files++
			stats.Bytes += n
		}
	}
}

func writeFile(target string, r io.Reader, perm fs.FileMode) (int64, error) {
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func safeJoin(dir, name string) (string, error) {
	clean := path.Clean(name)
	if clean == "." {
		return dir, nil
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive entry %q escapes extraction directory", name)
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), nil
}
