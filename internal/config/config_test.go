package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
storage:
  backend: s3
  bucket: events
  region: eu-west-1
  endpoint: http://localhost:9000
  force_path_style: true
output:
  directory: enriched
  date_format: "{yyyy/MM/dd}"
  filename_prefix: run
  compression: gzip
delivery:
  max_connection_time: 2m
  backoff_period: 3s
dead_letter:
  backend: blob
  url: mem://bad
perf:
  max_in_flight: 4
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Bucket != "events" || cfg.Storage.Region != "eu-west-1" || !cfg.Storage.ForcePathStyle {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Output.DateFormat != "{yyyy/MM/dd}" || cfg.Output.FilenamePrefix != "run" {
		t.Errorf("unexpected output config: %+v", cfg.Output)
	}
	if cfg.Delivery.MaxConnectionTime != 2*time.Minute || cfg.Delivery.BackoffPeriod != 3*time.Second {
		t.Errorf("unexpected delivery config: %+v", cfg.Delivery)
	}
	// Defaults survive for fields the file does not set.
	if cfg.Delivery.ShutdownPause != 5*time.Second {
		t.Errorf("ShutdownPause = %v, want default 5s", cfg.Delivery.ShutdownPause)
	}
	if cfg.Perf.MaxInFlight != 4 {
		t.Errorf("MaxInFlight = %d, want 4", cfg.Perf.MaxInFlight)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("S3_BUCKET", "override")
	t.Setenv("BACKOFF_PERIOD", "1500")
	t.Setenv("MAX_CONNECTION_TIME", "30s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Bucket != "override" {
		t.Errorf("Bucket = %q, want override", cfg.Storage.Bucket)
	}
	if cfg.Delivery.BackoffPeriod != 1500*time.Millisecond {
		t.Errorf("BackoffPeriod = %v, want 1.5s", cfg.Delivery.BackoffPeriod)
	}
	if cfg.Delivery.MaxConnectionTime != 30*time.Second {
		t.Errorf("MaxConnectionTime = %v, want 30s", cfg.Delivery.MaxConnectionTime)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("S3_BUCKET=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("S3_BUCKET", "")
	os.Unsetenv("S3_BUCKET")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Bucket != "from-dotenv" {
		t.Errorf("Bucket = %q, want from-dotenv", cfg.Storage.Bucket)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Storage.Bucket = "b"

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing bucket", func(c *Config) { c.Storage.Bucket = "" }},
		{"blob without url", func(c *Config) {
			c.Storage.Backend = "blob"
			c.Storage.Bucket = ""
		}},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }},
		{"unknown compression", func(c *Config) { c.Output.Compression = "lz4" }},
		{"zero backoff", func(c *Config) { c.Delivery.BackoffPeriod = 0 }},
		{"zero max connection time", func(c *Config) { c.Delivery.MaxConnectionTime = 0 }},
		{"postgres without dsn", func(c *Config) { c.DeadLetter.Backend = "postgres" }},
		{"unknown dead letter", func(c *Config) { c.DeadLetter.Backend = "kafka" }},
		{"no workers", func(c *Config) { c.Perf.MaxInFlight = 0 }},
	}

	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadBadDuration(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("S3_BUCKET", "b")
	t.Setenv("BACKOFF_PERIOD", "soon")

	if _, err := Load(""); !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid", err)
	}
}
