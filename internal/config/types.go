package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Paths         PathsConfig         `mapstructure:"paths"`
	Server        ServerConfig        `mapstructure:"server"`
	Backup        BackupConfig        `mapstructure:"backup"`
	Restore       RestoreConfig       `mapstructure:"restore"`
	Offsite       OffsiteConfig       `mapstructure:"offsite"`
	Migrations    MigrationsConfig    `mapstructure:"migrations"`
	Hardware      HardwareConfig      `mapstructure:"hardware"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type GlobalConfig struct {
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"` // json or console
	LockFile          string        `mapstructure:"lock_file"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase  string        `mapstructure:"config_passphrase"` // optional; may come from env
	AllowMissingTools bool          `mapstructure:"allow_missing_tools"`
}

// PathsConfig carries every filesystem location the tool touches.
type PathsConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	BackupDir    string `mapstructure:"backup_dir"`
	LogsDir      string `mapstructure:"logs_dir"`
	TempDir      string `mapstructure:"temp_dir"`
	Journal      string `mapstructure:"journal"`
	ComposeFile  string `mapstructure:"compose_file"`
	SettingsFile string `mapstructure:"settings_file"`
}

type ServerConfig struct {
	Service        string        `mapstructure:"service"`
	ComposeProject string        `mapstructure:"compose_project"`
	HealthURL      string        `mapstructure:"health_url"`
	DiagnosticsURL string        `mapstructure:"diagnostics_url"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type BackupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	// CompressionLevel is a gzip level; 0 selects the default.
	CompressionLevel int `mapstructure:"compression_level"`
}

type RestoreConfig struct {
	OwnerUID         int           `mapstructure:"owner_uid"` // -1 leaves ownership untouched
	OwnerGID         int           `mapstructure:"owner_gid"`
	SnapshotMaxAge   time.Duration `mapstructure:"snapshot_max_age"`
	TruncateFromFile string        `mapstructure:"truncate_from"`
	TruncateFile     string        `mapstructure:"truncate_file"`
}

// OffsiteConfig describes an optional second copy of every archive.
type OffsiteConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Backend       string        `mapstructure:"backend"` // local, s3
	Prefix        string        `mapstructure:"prefix"`
	KeepDays      int           `mapstructure:"keep_days"`
	Encrypt       bool          `mapstructure:"encrypt"`
	EncryptionKey string        `mapstructure:"encryption_key"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	Local         LocalStore    `mapstructure:"local"`
	S3            S3Store       `mapstructure:"s3"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	SessionToken    string `mapstructure:"session_token"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type MigrationsConfig struct {
	// Dir defaults to the directory holding the compose file.
	Dir           string        `mapstructure:"dir"`
	ScriptTimeout time.Duration `mapstructure:"script_timeout"`
}

type HardwareConfig struct {
	SettingsKey      string `mapstructure:"settings_key"`
	PrimaryInterface string `mapstructure:"primary_interface"`
	DataMount        string `mapstructure:"data_mount"`
	MinDiskBytes     uint64 `mapstructure:"min_disk_bytes"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
	Matrix     []MatrixConfig   `mapstructure:"matrix"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type MatrixConfig struct {
	Name        string `mapstructure:"name"`
	ServerURL   string `mapstructure:"server_url"`
	AccessToken string `mapstructure:"access_token"`
	RoomID      string `mapstructure:"room_id"`
}
