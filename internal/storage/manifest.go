package storage

import "time"

const ManifestSuffix = ".manifest.json"

// Manifest describes one offsite copy of an archive.
type Manifest struct {
	Archive     string    `json:"archive"`
	Key         string    `json:"key"`
	Version     string    `json:"version"`
	SizeBytes   int64     `json:"size_bytes"`
	Encrypted   bool      `json:"encrypted"`
	CreatedAt   time.Time `json:"created_at"`
	UploadedAt  time.Time `json:"uploaded_at"`
	ToolVersion string    `json:"tool_version"`
}

func ManifestKey(objectKey string) string {
	return objectKey + ManifestSuffix
}
