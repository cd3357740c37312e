// Package storage holds the offsite copies of archives: a mirror directory or
// an S3 compatible bucket.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one stored object. Keys are slash separated and start
// with the configured offsite prefix.
type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
	ETag     string
	Metadata map[string]string
	// IsManifest marks the JSON manifest written next to each archive copy.
	IsManifest bool
}

// Storage is an offsite target for archive copies and their manifests.
type Storage interface {
	// Put stores an archive stream (plain or encrypted) or a manifest. size
	// is -1 when the length is unknown; archives are always streamed that way.
	Put(ctx context.Context, archiveKey string, r io.Reader, size int64, metadata map[string]string) error
	Get(ctx context.Context, archiveKey string) (io.ReadCloser, error)
	Stat(ctx context.Context, archiveKey string) (ObjectInfo, error)
	// List returns every object under prefix, manifests included.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, archiveKey string) error
	Exists(ctx context.Context, archiveKey string) (bool, error)
}
