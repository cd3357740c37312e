package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	archivePrefix = "backup-"
	// ArchiveExt is the extension of every archive.
	ArchiveExt = ".tar.gz"
	// VersionExt is appended to an archive name to form its sidecar.
	VersionExt = ".version"
	// UnknownVersion is reported for archives without a sidecar.
	UnknownVersion = "unknown"

	stampLayout = "20060102-150405"
)

var archiveNameRe = regexp.MustCompile(`^backup-[0-9]{8}-[0-9]{6}\.tar\.gz$`)

// ErrInvalidArchiveName is returned for names outside backup-YYYYMMDD-HHMMSS.tar.gz.
var ErrInvalidArchiveName = errors.New("invalid archive name")

// ArchiveName is the canonical archive file name for t.
func ArchiveName(t time.Time) string {
	return archivePrefix + t.Format(stampLayout) + ArchiveExt
}

// ValidArchiveName reports whether name matches backup-YYYYMMDD-HHMMSS.tar.gz exactly.
func ValidArchiveName(name string) bool {
	return archiveNameRe.MatchString(name)
}

// ParseArchiveName returns the timestamp embedded in an archive name.
func ParseArchiveName(name string) (time.Time, error) {
	if !ValidArchiveName(name) {
		return time.Time{}, fmt.Errorf("%w: %q (expected backup-YYYYMMDD-HHMMSS.tar.gz)", ErrInvalidArchiveName, name)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), ArchiveExt)
	t, err := time.ParseInLocation(stampLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidArchiveName, name, err)
	}
	return t, nil
}

// BaseName strips the archive extension; it is also the archive's top-level directory.
func BaseName(name string) string {
	return strings.TrimSuffix(name, ArchiveExt)
}

// Stamp formats t the way archive and snapshot names embed timestamps.
func Stamp(t time.Time) string {
	return t.Format(stampLayout)
}

// ParseStamp is the inverse of Stamp.
func ParseStamp(s string) (time.Time, error) {
	return time.ParseInLocation(stampLayout, s, time.Local)
}
