package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rowjay/esdb-backup/internal/cryptoutil"
)

const (
	envPrefix = "ESB"
	appName   = "esbackup"
)

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			vp.SetConfigType(configTypeFromPath(resolved))
			key := os.Getenv("ESB_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but ESB_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	vp := viper.New()
	setDefaults(vp)
	var cfg Config
	_ = vp.Unmarshal(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return path, nil
	}
	if envPath := os.Getenv("ESB_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		appName + ".yaml",
		appName + ".yml",
		appName + ".toml",
		appName + ".json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, appName)
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range candidates[:3] {
			p := filepath.Join(base, c+".enc")
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(path, ".enc"), ".encrypted")
	switch filepath.Ext(base) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "console")
	vp.SetDefault("global.lock_file", filepath.Join(os.TempDir(), "esbackup.lock"))
	vp.SetDefault("global.operation_timeout", "2h")

	vp.SetDefault("paths.data_dir", "./data")
	vp.SetDefault("paths.backup_dir", "./backups")
	vp.SetDefault("paths.logs_dir", "./logs")
	vp.SetDefault("paths.compose_file", "./docker-compose.yml")
	vp.SetDefault("paths.settings_file", "./settings.json")

	vp.SetDefault("server.service", "eventstore")
	vp.SetDefault("server.health_url", "http://127.0.0.1:2113/health/live")
	vp.SetDefault("server.diagnostics_url", "http://127.0.0.1:2113/info")
	vp.SetDefault("server.stop_timeout", "30s")
	vp.SetDefault("server.health_timeout", "60s")
	vp.SetDefault("server.health_interval", "2s")
	vp.SetDefault("server.request_timeout", "5s")

	vp.SetDefault("backup.retention_days", 7)

	vp.SetDefault("restore.owner_uid", -1)
	vp.SetDefault("restore.owner_gid", -1)
	vp.SetDefault("restore.snapshot_max_age", "24h")
	vp.SetDefault("restore.truncate_from", "chaser.chk")
	vp.SetDefault("restore.truncate_file", "truncate.chk")

	vp.SetDefault("offsite.backend", "local")
	vp.SetDefault("offsite.retry_count", 3)
	vp.SetDefault("offsite.retry_backoff", "10s")

	vp.SetDefault("migrations.script_timeout", "30m")

	vp.SetDefault("hardware.settings_key", "hardware")
	vp.SetDefault("hardware.min_disk_bytes", uint64(32)<<30)
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 2 * time.Hour
	}
	if cfg.Backup.RetentionDays <= 0 {
		cfg.Backup.RetentionDays = 7
	}
	if cfg.Server.StopTimeout == 0 {
		cfg.Server.StopTimeout = 30 * time.Second
	}
	if cfg.Server.HealthTimeout == 0 {
		cfg.Server.HealthTimeout = 60 * time.Second
	}
	if cfg.Server.HealthInterval == 0 {
		cfg.Server.HealthInterval = 2 * time.Second
	}
	if cfg.Restore.SnapshotMaxAge == 0 {
		cfg.Restore.SnapshotMaxAge = 24 * time.Hour
	}
	if cfg.Offsite.RetryBackoff == 0 {
		cfg.Offsite.RetryBackoff = 10 * time.Second
	}
	if cfg.Paths.Journal == "" {
		cfg.Paths.Journal = JournalPath(cfg.Paths.BackupDir)
	}
	if cfg.Migrations.Dir == "" && cfg.Paths.ComposeFile != "" {
		cfg.Migrations.Dir = filepath.Dir(cfg.Paths.ComposeFile)
	}
}

// JournalPath is the default journal location inside a backup directory.
func JournalPath(backupDir string) string {
	if backupDir == "" {
		return ""
	}
	return filepath.Join(backupDir, ".journal.db")
}

func expandEnv(cfg *Config) {
	cfg.Paths.DataDir = os.ExpandEnv(cfg.Paths.DataDir)
	cfg.Paths.BackupDir = os.ExpandEnv(cfg.Paths.BackupDir)
	cfg.Paths.LogsDir = os.ExpandEnv(cfg.Paths.LogsDir)
	cfg.Offsite.EncryptionKey = os.ExpandEnv(cfg.Offsite.EncryptionKey)
	cfg.Offsite.S3.AccessKey = os.ExpandEnv(cfg.Offsite.S3.AccessKey)
	cfg.Offsite.S3.SecretKey = os.ExpandEnv(cfg.Offsite.S3.SecretKey)
	cfg.Offsite.S3.SessionToken = os.ExpandEnv(cfg.Offsite.S3.SessionToken)
	cfg.Notifications = expandNotificationEnv(cfg.Notifications)
}

func expandNotificationEnv(cfg NotificationsConfig) NotificationsConfig {
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].URL = os.ExpandEnv(cfg.Webhooks[i].URL)
	}
	for i := range cfg.Mattermost {
		cfg.Mattermost[i].URL = os.ExpandEnv(cfg.Mattermost[i].URL)
	}
	for i := range cfg.Matrix {
		cfg.Matrix[i].ServerURL = os.ExpandEnv(cfg.Matrix[i].ServerURL)
		cfg.Matrix[i].AccessToken = os.ExpandEnv(cfg.Matrix[i].AccessToken)
		cfg.Matrix[i].RoomID = os.ExpandEnv(cfg.Matrix[i].RoomID)
	}
	return cfg
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.OpenConfig(ciphertext, parsed)
}
