// Package servertest provides an in-memory server.Controller for tests.
package servertest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Fake records calls and lets tests script the server's behaviour.
type Fake struct {
	mu sync.Mutex

	IsRunning bool
	// IgnoreStop keeps the server running after Stop, forcing a Kill.
	IgnoreStop bool
	// StartErr is returned by Start.
	StartErr error
	// DiesOnStart leaves the server stopped after a successful Start.
	DiesOnStart bool
	// Unhealthy makes Healthy return false.
	Unhealthy bool
	// DiagnosticsErr is returned by Diagnostics.
	DiagnosticsErr error

	Calls []string
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Running(context.Context) (bool, error) {
	f.record("running")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.IsRunning, nil
}

func (f *Fake) Stop(context.Context, time.Duration) (bool, error) {
	f.record("stop")
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.IgnoreStop {
		f.IsRunning = false
	}
	return !f.IsRunning, nil
}

func (f *Fake) Kill(context.Context) error {
	f.record("kill")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.IsRunning = false
	return nil
}

func (f *Fake) Start(context.Context) error {
	f.record("start")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	f.IsRunning = !f.DiesOnStart
	return nil
}

func (f *Fake) Healthy(context.Context) bool {
	f.record("healthy")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.IsRunning && !f.Unhealthy
}

func (f *Fake) Diagnostics(context.Context) error {
	f.record("diagnostics")
	return f.DiagnosticsErr
}

// Called reports whether call was recorded.
func (f *Fake) Called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if c == call {
			return true
		}
	}
	return false
}

// ErrBoom is a convenient scripted failure.
var ErrBoom = errors.New("boom")
