package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/esdb-backup/internal/config"
)

type recorder struct {
	calls   []string
	running bool
}

func (r *recorder) run(_ context.Context, args ...string) ([]byte, error) {
	line := strings.Join(args, " ")
	r.calls = append(r.calls, line)
	switch {
	case strings.Contains(line, " ps "):
		if r.running {
			return []byte("abc123\n"), nil
		}
		return nil, nil
	case strings.Contains(line, " stop "), strings.Contains(line, " kill "):
		r.running = false
	case strings.Contains(line, " up "):
		r.running = true
	}
	return nil, nil
}

func newTestCompose(rec *recorder, health, diag string) *Compose {
	c := NewCompose(config.ServerConfig{
		Service:        "eventstore",
		ComposeProject: "es",
		HealthURL:      health,
		DiagnosticsURL: diag,
	}, "/srv/es/docker-compose.yml", true, zerolog.Nop())
	c.run = rec.run
	return c
}

func TestComposeLifecycle(t *testing.T) {
	rec := &recorder{running: true}
	c := newTestCompose(rec, "", "")
	ctx := context.Background()

	running, err := c.Running(ctx)
	require.NoError(t, err)
	require.True(t, running)

	stopped, err := c.Stop(ctx, 30*time.Second)
	require.NoError(t, err)
	require.True(t, stopped)
	require.Contains(t, rec.calls, "compose -f /srv/es/docker-compose.yml -p es stop -t 30 eventstore")

	require.NoError(t, c.Start(ctx))
	require.Contains(t, rec.calls, "compose -f /srv/es/docker-compose.yml -p es up -d --no-deps eventstore")
	running, err = c.Running(ctx)
	require.NoError(t, err)
	require.True(t, running)
}

func TestComposeHealth(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	c := newTestCompose(&recorder{}, ok.URL, bad.URL)
	require.True(t, c.Healthy(context.Background()))
	require.ErrorContains(t, c.Diagnostics(context.Background()), "503")

	c = newTestCompose(&recorder{}, bad.URL, "")
	require.False(t, c.Healthy(context.Background()))
	require.NoError(t, c.Diagnostics(context.Background()))
}
