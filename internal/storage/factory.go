package storage

import (
	"fmt"

	"github.com/rowjay/esdb-backup/internal/config"
)

// New builds the offsite backend described by cfg.
func New(cfg config.OffsiteConfig) (Storage, error) {
	switch cfg.Backend {
	case "local", "":
		if cfg.Local.Path == "" {
			return nil, fmt.Errorf("offsite.local.path is required")
		}
		return NewLocal(cfg.Local.Path), nil
	case "s3":
		if cfg.S3.Endpoint == "" || cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 endpoint and bucket are required")
		}
		return NewS3(cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported offsite backend: %s", cfg.Backend)
	}
}
