package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "info", Format: "json", Output: &buf, ServiceName: "test"})

	l.WithField("count", 3).Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "hello" {
		t.Errorf("message = %v, want hello", entry["message"])
	}
	if entry["service"] != "test" {
		t.Errorf("service = %v, want test", entry["service"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestNewLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "warn", Format: "text", Output: &buf})

	l.Info("hidden")
	l.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestNewAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("previous run\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	l := New(&Config{Level: "info", Format: "text", Output: &buf, File: path, MaxSize: 10})
	l.Info("second run")
	if err := Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "previous run\n") {
		t.Errorf("existing content was not preserved: %q", content)
	}
	if !strings.Contains(content, "second run") {
		t.Errorf("new line missing from file: %q", content)
	}
	if !strings.Contains(buf.String(), "second run") {
		t.Errorf("new line missing from primary output: %q", buf.String())
	}
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "info", Format: "json", Output: &buf})

	ctx := l.WithContext(context.Background())
	ctx = SetRunID(ctx, "run-1")
	ctx = SetPhase(ctx, "iterating")

	With(Fields{"commits": 1}).WithCount(2).WithDuration(15).WithStatus("done").Info(ctx, "batch %d", 7)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry[FieldRunID] != "run-1" {
		t.Errorf("run_id = %v, want run-1", entry[FieldRunID])
	}
	if entry[FieldPhase] != "iterating" {
		t.Errorf("phase = %v, want iterating", entry[FieldPhase])
	}
	if entry[FieldCount] != float64(2) || entry[FieldDurationMs] != float64(15) || entry["commits"] != float64(1) {
		t.Errorf("metric fields = %v", entry)
	}
	if entry[FieldStatus] != "done" {
		t.Errorf("status = %v, want done", entry[FieldStatus])
	}
	if entry["message"] != "batch 7" {
		t.Errorf("message = %v, want batch 7", entry["message"])
	}
}
