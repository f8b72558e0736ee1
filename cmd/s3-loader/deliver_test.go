package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/config"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/failure"
)

func TestDeliverCommand(t *testing.T) {
	work := t.TempDir()
	t.Chdir(work)
	storeDir := filepath.Join(work, "store")
	deadDir := filepath.Join(work, "dead")
	for _, d := range []string{storeDir, deadDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	t.Setenv("STORAGE_BACKEND", "blob")
	t.Setenv("BLOB_URL", "file://"+storeDir)
	t.Setenv("FILENAME_PREFIX", "run")
	t.Setenv("DEADLETTER_BACKEND", "blob")
	t.Setenv("DEADLETTER_URL", "file://"+deadDir)
	t.Setenv("BACKOFF_PERIOD", "10ms")
	t.Setenv("LOG_LEVEL", "error")

	dataPath := filepath.Join(work, "part-0001")
	if err := os.WriteFile(dataPath, []byte("event-1\nevent-2\n"), 0644); err != nil {
		t.Fatalf("write data: %v", err)
	}
	failedPath := filepath.Join(work, "failed.jsonl")
	if err := os.WriteFile(failedPath, []byte(`{"line":"garbage","errors":["not tsv"]}`+"\n"), 0644); err != nil {
		t.Fatalf("write failed records: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"deliver", "--failed", failedPath, "--directory", "enriched", dataPath})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(storeDir, "enriched", "run-part-0001"))
	if err != nil {
		t.Fatalf("uploaded object missing: %v", err)
	}
	if string(got) != "event-1\nevent-2\n" {
		t.Errorf("uploaded %q", got)
	}
	if !strings.Contains(out.String(), "enriched/run-part-0001") {
		t.Errorf("output %q does not name the key", out.String())
	}

	var deadLetters []string
	filepath.WalkDir(deadDir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(p, ".json") {
			deadLetters = append(deadLetters, p)
		}
		return nil
	})
	if len(deadLetters) != 1 {
		t.Fatalf("found %d dead letters, want 1", len(deadLetters))
	}
	raw, err := os.ReadFile(deadLetters[0])
	if err != nil {
		t.Fatalf("read dead letter: %v", err)
	}
	var rec failure.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("dead letter is not JSON: %v", err)
	}
	if rec.Line != "garbage" || len(rec.Errors) != 1 || rec.FailureTstamp == "" {
		t.Errorf("unexpected dead letter %+v", rec)
	}
}

func TestDeliverCommandInvalidConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "")

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"deliver", "part-0001"})
	err := rootCmd.Execute()
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("Execute() error = %v, want config.ErrInvalid", err)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "s3-loader "+Version) {
		t.Errorf("output = %q", out.String())
	}
}
