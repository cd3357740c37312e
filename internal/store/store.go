// Package store manages the directory of immutable, timestamped archives and
// their optional version sidecars.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrArchiveNotFound is returned when a named archive does not exist.
var ErrArchiveNotFound = errors.New("archive not found")

// Archive is one archive file in the store.
type Archive struct {
	Name    string
	Path    string
	Size    int64
	Created time.Time
	Version string
}

// HumanSize renders Size for people.
func (a Archive) HumanSize() string {
	return humanize.IBytes(uint64(a.Size))
}

// Summary aggregates a listing.
type Summary struct {
	Count      int
	TotalBytes int64
}

// HumanTotal renders TotalBytes for people.
func (s Summary) HumanTotal() string {
	return humanize.IBytes(uint64(s.TotalBytes))
}

// Summarize totals a set of archives.
func Summarize(archives []Archive) Summary {
	s := Summary{Count: len(archives)}
	for _, a := range archives {
		s.TotalBytes += a.Size
	}
	return s
}

type Store struct {
	Dir string
}

func New(dir string) *Store {
	return &Store{Dir: dir}
}

// Path is where an archive named name lives.
func (s *Store) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Ensure creates the store directory.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	return nil
}

// List returns all archives, newest first. Files that do not follow the
// archive naming scheme, sidecars and temporaries are ignored.
func (s *Store) List() ([]Archive, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var archives []Archive
	for _, e := range entries {
		if e.IsDir() || !ValidArchiveName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, s.describe(e.Name(), info))
	}
	sort.Slice(archives, func(i, j int) bool {
		if archives[i].Created.Equal(archives[j].Created) {
			return archives[i].Name > archives[j].Name
		}
		return archives[i].Created.After(archives[j].Created)
	})
	return archives, nil
}

// Stat describes a single archive after validating its name.
func (s *Store) Stat(name string) (Archive, error) {
	if _, err := ParseArchiveName(name); err != nil {
		return Archive{}, err
	}
	info, err := os.Stat(s.Path(name))
	if os.IsNotExist(err) {
		return Archive{}, fmt.Errorf("%w: %s", ErrArchiveNotFound, s.Path(name))
	}
	if err != nil {
		return Archive{}, err
	}
	return s.describe(name, info), nil
}

func (s *Store) describe(name string, info os.FileInfo) Archive {
	created, err := ParseArchiveName(name)
	if err != nil {
		created = info.ModTime()
	}
	return Archive{
		Name:    name,
		Path:    s.Path(name),
		Size:    info.Size(),
		Created: created,
		Version: s.ReadVersion(name),
	}
}

// WriteVersion records the version that was active when name was taken.
func (s *Store) WriteVersion(name, version string) error {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil
	}
	return os.WriteFile(s.Path(name)+VersionExt, []byte(version+"\n"), 0o644)
}

// ReadVersion returns the sidecar version or UnknownVersion.
func (s *Store) ReadVersion(name string) string {
	data, err := os.ReadFile(s.Path(name) + VersionExt)
	if err != nil {
		return UnknownVersion
	}
	if v := strings.TrimSpace(string(data)); v != "" {
		return v
	}
	return UnknownVersion
}

// Remove deletes an archive and its sidecar.
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(s.Path(name) + VersionExt); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Prune removes archives older than keepDays relative to now. The age of an
// archive is taken from its file modification time. Archives exactly at the
// boundary are kept. keepDays <= 0 disables pruning.
func (s *Store) Prune(now time.Time, keepDays int) ([]Archive, error) {
	if keepDays <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-time.Duration(keepDays) * 24 * time.Hour)
	var removed []Archive
	for _, e := range entries {
		if e.IsDir() || !ValidArchiveName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		arch := s.describe(e.Name(), info)
		if err := s.Remove(e.Name()); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed = append(removed, arch)
	}
	return removed, nil
}
