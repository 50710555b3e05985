package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"stolik/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Directory  DirectoryConfig  `yaml:"directory"`
	Booking    BookingConfig    `yaml:"booking"`
	Kafka      KafkaConfig      `yaml:"kafka"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// DirectoryConfig описывает подключение к справочнику ресторанов.
// FixturesPath включает работу по локальному YAML-файлу вместо HTTP.
// CacheTTL равный нулю отключает кэш; без ключа берется значение по умолчанию.
type DirectoryConfig struct {
	BaseURL      string         `yaml:"base_url"`
	Timeout      time.Duration  `yaml:"timeout"`
	CacheTTL     *time.Duration `yaml:"cache_ttl"`
	FixturesPath string         `yaml:"fixtures_path"`
}

// CacheDuration returns the configured cache TTL, zero when caching is off.
func (d DirectoryConfig) CacheDuration() time.Duration {
	if d.CacheTTL == nil {
		return models.DefaultDirectoryCacheTTL * time.Second
	}
	return *d.CacheTTL
}

type BookingConfig struct {
	Timezone string        `yaml:"timezone"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
	LockWait time.Duration `yaml:"lock_wait"`
}

// Location resolves Timezone, falling back to UTC.
func (b BookingConfig) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Directory.BaseURL == "" && c.Directory.FixturesPath == "" {
		return errors.New("directory base_url or fixtures_path is required")
	}

	if c.Booking.Timezone != "" {
		if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
			return fmt.Errorf("invalid booking timezone %q: %w", c.Booking.Timezone, err)
		}
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return errors.New("kafka topic is required when brokers are set")
	}

	if c.Directory.CacheTTL != nil && *c.Directory.CacheTTL < 0 {
		return errors.New("directory cache_ttl must not be negative")
	}

	if c.API.RateLimit.RPS < 0 || c.API.RateLimit.Burst < 0 {
		return errors.New("rate limit values must not be negative")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.RateLimit.RPS > 0 && c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = int(c.API.RateLimit.RPS)
		if c.API.RateLimit.Burst < 1 {
			c.API.RateLimit.Burst = 1
		}
	}

	if c.Directory.Timeout == 0 {
		c.Directory.Timeout = models.DefaultDirectoryTimeout * time.Second
	}
	if c.Directory.CacheTTL == nil {
		ttl := models.DefaultDirectoryCacheTTL * time.Second
		c.Directory.CacheTTL = &ttl
	}

	if c.Booking.LockTTL == 0 {
		c.Booking.LockTTL = models.DefaultLockTTL * time.Second
	}
	if c.Booking.LockWait == 0 {
		c.Booking.LockWait = models.DefaultLockWait * time.Second
	}

	if c.Backup.Enabled {
		if c.Backup.Interval == 0 {
			c.Backup.Interval = 24 * time.Hour
		}
		if c.Backup.RetentionDays == 0 {
			c.Backup.RetentionDays = models.DefaultBackupRetentionDays
		}
		if c.Backup.StoragePath == "" {
			c.Backup.StoragePath = "backups"
		}
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		c.Kafka.Topic = "bookings"
	}
}
