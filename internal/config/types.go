package config

import (
	"path/filepath"
	"time"
)

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Download      DownloadConfig      `mapstructure:"download"`
	Manifest      ManifestConfig      `mapstructure:"manifest"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Transfer      TransferConfig      `mapstructure:"transfer"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// LockPath is global.lock_file, or .logfetch.lock inside the download directory.
func (c *Config) LockPath() string {
	if c.Global.LockFile != "" || c.Download.Dir == "" {
		return c.Global.LockFile
	}
	return filepath.Join(c.Download.Dir, ".logfetch.lock")
}

type GlobalConfig struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // json or console
	LockFile    string `mapstructure:"lock_file"`  // defaults to <download.dir>/.logfetch.lock
	FailOnError bool   `mapstructure:"fail_on_error"`
}

type DownloadConfig struct {
	Container string `mapstructure:"container"`
	Dir       string `mapstructure:"dir"`
}

type ManifestConfig struct {
	Backend      string        `mapstructure:"backend"` // dynamodb, postgres
	Table        string        `mapstructure:"table"`
	PageSize     int           `mapstructure:"page_size"`
	RetryCount   int           `mapstructure:"retry_count"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	DynamoDB     DynamoDBStore `mapstructure:"dynamodb"`
	Postgres     PostgresStore `mapstructure:"postgres"`
}

type DynamoDBStore struct {
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	SessionToken string `mapstructure:"session_token"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

type PostgresStore struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type StorageConfig struct {
	Backend string     `mapstructure:"backend"` // local, s3, blob
	Local   LocalStore `mapstructure:"local"`
	S3      S3Store    `mapstructure:"s3"`
	Blob    BlobStore  `mapstructure:"blob"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	SessionToken    string `mapstructure:"session_token"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type BlobStore struct {
	// URL is a gocloud bucket URL; {container} is replaced with the container name.
	URL string `mapstructure:"url"`
}

type TransferConfig struct {
	Parallelism      int           `mapstructure:"parallelism"`
	ChunkSize        int64         `mapstructure:"chunk_size"`
	RetryCount       int           `mapstructure:"retry_count"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
	Matrix     []MatrixHook     `mapstructure:"matrix"`
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

type MatrixHook struct {
	Name        string `mapstructure:"name"`
	ServerURL   string `mapstructure:"server_url"`
	AccessToken string `mapstructure:"access_token"`
	RoomID      string `mapstructure:"room_id"`
}
