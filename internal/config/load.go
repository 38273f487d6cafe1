package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "LOGFETCH"
)

// Load reads configuration from a file, env vars, and defaults.
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
		vp.SetConfigFile(resolved)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
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

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return path, nil
	}
	if envPath := os.Getenv("LOGFETCH_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"logfetch.yaml",
		"logfetch.yml",
		"logfetch.toml",
		"logfetch.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "logfetch")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "console")
	vp.SetDefault("global.fail_on_error", false)
	vp.SetDefault("download.container", "")
	vp.SetDefault("download.dir", "")
	vp.SetDefault("manifest.backend", "dynamodb")
	vp.SetDefault("manifest.table", "WADDirectoriesTable")
	vp.SetDefault("manifest.page_size", 1000)
	vp.SetDefault("manifest.retry_count", 3)
	vp.SetDefault("manifest.retry_backoff", "1s")
	vp.SetDefault("manifest.dynamodb.region", "")
	vp.SetDefault("manifest.dynamodb.endpoint", "")
	vp.SetDefault("manifest.dynamodb.max_retries", 10)
	vp.SetDefault("manifest.postgres.dsn", "")
	vp.SetDefault("manifest.postgres.max_conns", 4)
	vp.SetDefault("storage.backend", "blob")
	vp.SetDefault("storage.local.path", "")
	vp.SetDefault("storage.s3.endpoint", "")
	vp.SetDefault("storage.s3.use_ssl", true)
	vp.SetDefault("storage.blob.url", "azblob://{container}")
	vp.SetDefault("transfer.parallelism", 8*runtime.NumCPU())
	vp.SetDefault("transfer.chunk_size", 8<<20)
	vp.SetDefault("transfer.retry_count", 3)
	vp.SetDefault("transfer.retry_backoff", "2s")
	vp.SetDefault("transfer.progress_interval", "10s")
	vp.SetDefault("queue.capacity", 16)
	vp.SetDefault("metrics.pushgateway_url", "")
	vp.SetDefault("metrics.job", "logfetch")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Manifest.PageSize <= 0 {
		cfg.Manifest.PageSize = 1000
	}
	if cfg.Transfer.Parallelism <= 0 {
		cfg.Transfer.Parallelism = 8 * runtime.NumCPU()
	}
	if cfg.Transfer.ChunkSize <= 0 {
		cfg.Transfer.ChunkSize = 8 << 20
	}
	if cfg.Transfer.RetryBackoff == 0 {
		cfg.Transfer.RetryBackoff = 2 * time.Second
	}
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = 16
	}
}

func expandEnv(cfg *Config) {
	cfg.Manifest.DynamoDB.AccessKey = os.ExpandEnv(cfg.Manifest.DynamoDB.AccessKey)
	cfg.Manifest.DynamoDB.SecretKey = os.ExpandEnv(cfg.Manifest.DynamoDB.SecretKey)
	cfg.Manifest.DynamoDB.SessionToken = os.ExpandEnv(cfg.Manifest.DynamoDB.SessionToken)
	cfg.Manifest.Postgres.DSN = os.ExpandEnv(cfg.Manifest.Postgres.DSN)
	cfg.Storage.S3.AccessKey = os.ExpandEnv(cfg.Storage.S3.AccessKey)
	cfg.Storage.S3.SecretKey = os.ExpandEnv(cfg.Storage.S3.SecretKey)
	cfg.Storage.S3.SessionToken = os.ExpandEnv(cfg.Storage.S3.SessionToken)
	for i := range cfg.Notifications.Webhooks {
		cfg.Notifications.Webhooks[i].URL = os.ExpandEnv(cfg.Notifications.Webhooks[i].URL)
	}
	for i := range cfg.Notifications.Mattermost {
		cfg.Notifications.Mattermost[i].URL = os.ExpandEnv(cfg.Notifications.Mattermost[i].URL)
	}
	for i := range cfg.Notifications.Matrix {
		mx := &cfg.Notifications.Matrix[i]
		mx.ServerURL = os.ExpandEnv(mx.ServerURL)
		mx.AccessToken = os.ExpandEnv(mx.AccessToken)
		mx.RoomID = os.ExpandEnv(mx.RoomID)
	}
}
