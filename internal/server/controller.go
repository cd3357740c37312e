// Package server controls the database container and probes its health.
package server

import (
	"context"
	"time"
)

// Controller is what the backup and restore executors need from the
// database server's runtime.
type Controller interface {
	Name() string
	// Running reports whether the server process is up.
	Running(ctx context.Context) (bool, error)
	// Stop asks the server to stop and waits up to timeout. It reports
	// whether the server is stopped when it returns.
	Stop(ctx context.Context, timeout time.Duration) (bool, error)
	// Kill forcibly terminates the server.
	Kill(ctx context.Context) error
	Start(ctx context.Context) error
	// Healthy reports whether the health endpoint answers successfully.
	Healthy(ctx context.Context) bool
	// Diagnostics probes a secondary endpoint; failure means degraded.
	Diagnostics(ctx context.Context) error
}
