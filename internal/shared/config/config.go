package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	S3       S3Config       `mapstructure:"s3"`
	LakeFS   LakeFSConfig   `mapstructure:"lakefs"`
	LFS      LFSConfig      `mapstructure:"lfs"`
	Git      GitConfig      `mapstructure:"git"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Log      LogConfig      `mapstructure:"log"`
}

// AppConfig holds hub-level settings.
type AppConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	APIBase          string `mapstructure:"api_base"`
	SessionSecret    string `mapstructure:"session_secret"`
	AdminSecretToken string `mapstructure:"admin_secret_token"`
	DebugLogPayloads bool   `mapstructure:"debug_log_payloads"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// RedisConfig holds Redis configuration. Redis is optional; when Address is
// empty the quota engine skips the usage cache.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// S3Config holds object storage configuration.
type S3Config struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	Bucket           string `mapstructure:"bucket"`
	AccessKey        string `mapstructure:"access_key"`
	SecretKey        string `mapstructure:"secret_key"`
	Region           string `mapstructure:"region"`
	ForcePathStyle   bool   `mapstructure:"force_path_style"`
	SignatureVersion string `mapstructure:"signature_version"`
}

// LakeFSConfig holds version store configuration.
type LakeFSConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LFSConfig holds large-file storage behavior.
type LFSConfig struct {
	InlineThresholdBytes int64         `mapstructure:"inline_threshold_bytes"`
	HistoryKeep          int           `mapstructure:"history_keep"`
	UploadExpiry         time.Duration `mapstructure:"upload_expiry"`
	DownloadExpiry       time.Duration `mapstructure:"download_expiry"`
}

// GitConfig holds git bridge behavior.
type GitConfig struct {
	LFSThresholdBytes int64 `mapstructure:"lfs_threshold_bytes"`
}

// QuotaConfig holds default namespace quotas. Zero means unlimited.
type QuotaConfig struct {
	DefaultUserPrivateQuotaBytes int64 `mapstructure:"default_user_private_quota_bytes"`
	DefaultUserPublicQuotaBytes  int64 `mapstructure:"default_user_public_quota_bytes"`
	DefaultOrgPrivateQuotaBytes  int64 `mapstructure:"default_org_private_quota_bytes"`
	DefaultOrgPublicQuotaBytes   int64 `mapstructure:"default_org_public_quota_bytes"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/kohakuhub")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("KOHAKU")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if key := os.Getenv("KOHAKU_S3_SECRET_KEY"); key != "" {
		cfg.S3.SecretKey = key
	}
	if key := os.Getenv("KOHAKU_LAKEFS_SECRET_KEY"); key != "" {
		cfg.LakeFS.SecretKey = key
	}
	if url := os.Getenv("KOHAKU_DB_URL"); url != "" {
		cfg.Database.URL = url
	}
	if secret := os.Getenv("KOHAKU_SESSION_SECRET"); secret != "" {
		cfg.App.SessionSecret = secret
	}
	if secret := os.Getenv("KOHAKU_ADMIN_SECRET_TOKEN"); secret != "" {
		cfg.App.AdminSecretToken = secret
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.base_url", "http://localhost:8080")
	v.SetDefault("app.api_base", "/api")

	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 300*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.url", "postgres://postgres@localhost:5432/kohakuhub?sslmode=disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// S3 defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "kohakuhub")
	v.SetDefault("s3.force_path_style", true)
	v.SetDefault("s3.signature_version", "s3v4")

	// LakeFS defaults
	v.SetDefault("lakefs.endpoint", "http://localhost:8000")
	v.SetDefault("lakefs.timeout", 30*time.Second)

	// LFS defaults
	v.SetDefault("lfs.inline_threshold_bytes", int64(10*1024*1024))
	v.SetDefault("lfs.history_keep", 5)
	v.SetDefault("lfs.upload_expiry", 15*time.Minute)
	v.SetDefault("lfs.download_expiry", time.Hour)

	// Git defaults
	v.SetDefault("git.lfs_threshold_bytes", int64(1024*1024))

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
