package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/logging"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Output     OutputConfig     `yaml:"output"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    logging.Config   `yaml:"logging"`
	Perf       PerfConfig       `yaml:"perf"`
}

type StorageConfig struct {
	Backend        string `yaml:"backend"` // "s3" | "blob"
	Endpoint       string `yaml:"endpoint"`
	Region         string `yaml:"region"`
	Bucket         string `yaml:"bucket"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	URL            string `yaml:"url"` // gocloud bucket URL for the blob backend
}

type OutputConfig struct {
	Directory      string `yaml:"directory"`
	DateFormat     string `yaml:"date_format"`
	FilenamePrefix string `yaml:"filename_prefix"`
	Compression    string `yaml:"compression"` // "none" | "gzip" | "zstd"
}

type DeliveryConfig struct {
	MaxConnectionTime time.Duration `yaml:"max_connection_time"`
	BackoffPeriod     time.Duration `yaml:"backoff_period"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ShutdownPause     time.Duration `yaml:"shutdown_pause"`
}

type DeadLetterConfig struct {
	Backend string `yaml:"backend"` // "log" | "blob" | "postgres"
	URL     string `yaml:"url"`
	Prefix  string `yaml:"prefix"`
	DSN     string `yaml:"dsn"`
	Table   string `yaml:"table"`
}

type MonitoringConfig struct {
	Tracker TrackerConfig `yaml:"tracker"`
	Metrics MetricsConfig `yaml:"metrics"`
	Sentry  SentryConfig  `yaml:"sentry"`
}

type TrackerConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AppID     string `yaml:"app_id"`
	BackupDir string `yaml:"backup_dir"`
}

type MetricsConfig struct {
	Address     string `yaml:"address"`
	Namespace   string `yaml:"namespace"`
	Pushgateway string `yaml:"pushgateway"`
	Job         string `yaml:"job"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

type PerfConfig struct {
	MaxInFlight int `yaml:"max_in_flight"`
}

// Default returns the configuration used when nothing overrides a field.
func Default() Config {
	return Config{
		Storage: StorageConfig{Backend: "s3"},
		Output:  OutputConfig{Compression: "none"},
		Delivery: DeliveryConfig{
			MaxConnectionTime: 10 * time.Minute,
			BackoffPeriod:     10 * time.Second,
			RequestTimeout:    5 * time.Minute,
			ShutdownPause:     5 * time.Second,
		},
		DeadLetter: DeadLetterConfig{Backend: "log", Table: "dead_letters"},
		Monitoring: MonitoringConfig{
			Tracker: TrackerConfig{AppID: "s3-loader"},
			Metrics: MetricsConfig{Namespace: "s3_loader", Job: "s3-loader"},
		},
		Logging: logging.Config{Format: "text", Level: "info"},
		Perf:    PerfConfig{MaxInFlight: 1},
	}
}

// Load builds the configuration from defaults, an optional .env file in the
// working directory, the YAML file at path (if non-empty) and finally
// environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return cfg, fmt.Errorf("load .env: %w", err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the fields the loader cannot run without.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("%w: storage.bucket required for s3 backend", ErrInvalid)
		}
	case "blob":
		if c.Storage.URL == "" && c.Storage.Bucket == "" {
			return fmt.Errorf("%w: storage.url or storage.bucket required for blob backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalid, c.Storage.Backend)
	}

	switch c.Output.Compression {
	case "", "none", "gzip", "zstd":
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrInvalid, c.Output.Compression)
	}

	if c.Delivery.MaxConnectionTime <= 0 {
		return fmt.Errorf("%w: delivery.max_connection_time must be positive", ErrInvalid)
	}
	if c.Delivery.BackoffPeriod <= 0 {
		return fmt.Errorf("%w: delivery.backoff_period must be positive", ErrInvalid)
	}
	if c.Delivery.ShutdownPause < 0 {
		return fmt.Errorf("%w: delivery.shutdown_pause must not be negative", ErrInvalid)
	}

	switch c.DeadLetter.Backend {
	case "log":
	case "blob":
		if c.DeadLetter.URL == "" {
			return fmt.Errorf("%w: dead_letter.url required for blob backend", ErrInvalid)
		}
	case "postgres":
		if c.DeadLetter.DSN == "" {
			return fmt.Errorf("%w: dead_letter.dsn required for postgres backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown dead letter backend %q", ErrInvalid, c.DeadLetter.Backend)
	}

	if c.Perf.MaxInFlight < 1 {
		return fmt.Errorf("%w: perf.max_in_flight must be at least 1", ErrInvalid)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Storage.Endpoint, "S3_ENDPOINT")
	setString(&cfg.Storage.Region, "S3_REGION")
	setString(&cfg.Storage.Bucket, "S3_BUCKET")
	setString(&cfg.Storage.URL, "BLOB_URL")
	if v := os.Getenv("S3_FORCE_PATH_STYLE"); v != "" {
		cfg.Storage.ForcePathStyle = v == "true"
	}

	setString(&cfg.Output.Directory, "OUTPUT_DIRECTORY")
	setString(&cfg.Output.DateFormat, "DATE_FORMAT")
	setString(&cfg.Output.FilenamePrefix, "FILENAME_PREFIX")
	setString(&cfg.Output.Compression, "COMPRESSION")

	for key, dst := range map[string]*time.Duration{
		"MAX_CONNECTION_TIME": &cfg.Delivery.MaxConnectionTime,
		"BACKOFF_PERIOD":      &cfg.Delivery.BackoffPeriod,
		"REQUEST_TIMEOUT":     &cfg.Delivery.RequestTimeout,
		"SHUTDOWN_PAUSE":      &cfg.Delivery.ShutdownPause,
	} {
		if err := setDuration(dst, key); err != nil {
			return err
		}
	}

	setString(&cfg.DeadLetter.Backend, "DEADLETTER_BACKEND")
	setString(&cfg.DeadLetter.URL, "DEADLETTER_URL")
	setString(&cfg.DeadLetter.DSN, "DEADLETTER_DSN")

	setString(&cfg.Monitoring.Tracker.Endpoint, "TRACKER_ENDPOINT")
	setString(&cfg.Monitoring.Metrics.Address, "METRICS_ADDRESS")
	setString(&cfg.Monitoring.Metrics.Pushgateway, "METRICS_PUSHGATEWAY")
	setString(&cfg.Monitoring.Sentry.DSN, "SENTRY_DSN")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")

	if v := os.Getenv("MAX_IN_FLIGHT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MAX_IN_FLIGHT: %v", ErrInvalid, err)
		}
		cfg.Perf.MaxInFlight = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare integers are milliseconds.
		ms, convErr := strconv.ParseInt(v, 10, 64)
		if convErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		d = time.Duration(ms) * time.Millisecond
	}
	*dst = d
	return nil
}
