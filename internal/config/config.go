package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Media     Media     `mapstructure:"media"`
	Storage   Storage   `mapstructure:"storage"`
	VK        VK        `mapstructure:"vk"`
	Render    Render    `mapstructure:"render"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Retry     Retry     `mapstructure:"retry"`
	Scheduler Scheduler `mapstructure:"scheduler"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort string `mapstructure:"http_port"` // HTTP port to listen on
}

// Database holds database connection configuration.
type Database struct {
	Driver     string         `mapstructure:"driver"`      // "postgres" or "sqlite"
	SQLitePath string         `mapstructure:"sqlite_path"` // used when driver is sqlite
	Master     DatabaseNode   `mapstructure:"master"`
	Slaves     []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Media describes where story source images are fetched from.
type Media struct {
	Source  string        `mapstructure:"source"`   // "http" or "minio"
	BaseURL string        `mapstructure:"base_url"` // e.g. http://api:8000/api/telegram/file
	Timeout time.Duration `mapstructure:"timeout"`
	Prefix  string        `mapstructure:"prefix"`   // object prefix for the minio source
	MaxSize int64         `mapstructure:"max_size"` // bytes; larger files fail the fetch
}

// Storage holds configuration for the object storage backend.
type Storage struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// VK holds credentials and limits for the VK API client.
type VK struct {
	APIURL         string        `mapstructure:"api_url"`
	APIVersion     string        `mapstructure:"api_version"`
	AccessToken    string        `mapstructure:"access_token"`
	GroupID        int64         `mapstructure:"group_id"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	Burst          int           `mapstructure:"burst"`
}

// Render holds story image rendering options.
type Render struct {
	FontPaths   []string `mapstructure:"font_paths"` // in order of preference
	FontSize    float64  `mapstructure:"font_size"`
	JPEGQuality int      `mapstructure:"jpeg_quality"`
}

// Kafka holds configuration for the Kafka message queue.
type Kafka struct {
	GroupID string   `mapstructure:"group_id"` // Consumer group ID
	Topic   string   `mapstructure:"topic"`    // Kafka topic name
	Brokers []string `mapstructure:"brokers"`  // List of Kafka broker addresses
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Scheduler configures the periodic sweep of unpublished stories.
type Scheduler struct {
	Enabled   bool   `mapstructure:"enabled"`
	Cron      string `mapstructure:"cron"`
	BatchSize uint64 `mapstructure:"batch_size"`
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", ":8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlite_path", "stories.db")
	v.SetDefault("media.source", "http")
	v.SetDefault("media.timeout", 30*time.Second)
	v.SetDefault("media.prefix", "media")
	v.SetDefault("media.max_size", 50<<20)
	v.SetDefault("vk.api_url", "https://api.vk.com/method")
	v.SetDefault("vk.api_version", "5.131")
	v.SetDefault("vk.timeout", 30*time.Second)
	v.SetDefault("vk.requests_per_sec", 3)
	v.SetDefault("vk.burst", 1)
	v.SetDefault("render.font_paths", []string{
		"arial.ttf",
		"/System/Library/Fonts/Supplemental/Arial.ttf",
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	})
	v.SetDefault("render.font_size", 80)
	v.SetDefault("render.jpeg_quality", 95)
	v.SetDefault("kafka.topic", "stories.publish")
	v.SetDefault("kafka.group_id", "story-publisher")
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", time.Second)
	v.SetDefault("retry.backoff", 2)
	v.SetDefault("scheduler.cron", "*/5 * * * *")
	v.SetDefault("scheduler.batch_size", 20)
}

// bindEnv binds critical environment variables to Viper keys.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
		"vk.access_token":      "VK_ACCESS_TOKEN",
		"vk.group_id":          "VK_GROUP_ID",
		"media.base_url":       "MEDIA_BASE_URL",
		"storage.access_key":   "MINIO_ACCESS_KEY",
		"storage.secret_key":   "MINIO_SECRET_KEY",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration from the YAML file at path, overlaid with
// environment variables. A .env file in the working directory is loaded first
// when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}
