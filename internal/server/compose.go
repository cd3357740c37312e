package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/esdb-backup/internal/config"
	"github.com/rowjay/esdb-backup/internal/util"
)

// Compose drives a docker compose service through the docker CLI.
type Compose struct {
	cfg               config.ServerConfig
	composeFile       string
	allowMissingTools bool
	client            *http.Client
	log               zerolog.Logger

	// run executes docker with args; replaced in tests.
	run func(ctx context.Context, args ...string) ([]byte, error)
}

func NewCompose(cfg config.ServerConfig, composeFile string, allowMissingTools bool, log zerolog.Logger) *Compose {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Compose{
		cfg:               cfg,
		composeFile:       composeFile,
		allowMissingTools: allowMissingTools,
		client:            &http.Client{Timeout: timeout},
		log:               log,
	}
	c.run = c.docker
	return c
}

func (c *Compose) Name() string { return c.cfg.Service }

func (c *Compose) Validate() error {
	if c.allowMissingTools {
		return nil
	}
	return util.RequireBinary("docker")
}

func (c *Compose) Running(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, c.composeArgs("ps", "--status", "running", "-q", c.cfg.Service)...)
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(out)) > 0, nil
}

func (c *Compose) Stop(ctx context.Context, timeout time.Duration) (bool, error) {
	stopCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	secs := strconv.Itoa(int(timeout.Seconds()))
	if _, err := c.run(stopCtx, c.composeArgs("stop", "-t", secs, c.cfg.Service)...); err != nil {
		c.log.Warn().Err(err).Str("service", c.cfg.Service).Msg("stop command failed")
	}
	running, err := c.Running(ctx)
	if err != nil {
		return false, err
	}
	return !running, nil
}

func (c *Compose) Kill(ctx context.Context) error {
	_, err := c.run(ctx, c.composeArgs("kill", c.cfg.Service)...)
	return err
}

func (c *Compose) Start(ctx context.Context) error {
	_, err := c.run(ctx, c.composeArgs("up", "-d", "--no-deps", c.cfg.Service)...)
	return err
}

func (c *Compose) Healthy(ctx context.Context) bool {
	return c.get(ctx, c.cfg.HealthURL) == nil
}

func (c *Compose) Diagnostics(ctx context.Context) error {
	if c.cfg.DiagnosticsURL == "" {
		return nil
	}
	return c.get(ctx, c.cfg.DiagnosticsURL)
}

func (c *Compose) get(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("no endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return nil
}

func (c *Compose) composeArgs(args ...string) []string {
	base := []string{"compose"}
	if c.composeFile != "" {
		base = append(base, "-f", c.composeFile)
	}
	if c.cfg.ComposeProject != "" {
		base = append(base, "-p", c.cfg.ComposeProject)
	}
	return append(base, args...)
}

func (c *Compose) docker(ctx context.Context, args ...string) ([]byte, error) {
	cmd := util.Command(ctx, "docker", args, nil)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("docker %s: %w", strings.Join(args, " "), err)
		}
		return nil, fmt.Errorf("docker %s: %w: %s", strings.Join(args, " "), err, msg)
	}
	return stdout.Bytes(), nil
}
