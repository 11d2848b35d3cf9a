package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zentrochat/zentro/pkg/config"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{input: 0, want: "0 B"},
		{input: 1023, want: "1023 B"},
		{input: 1024, want: "1.0 KiB"},
		{input: 1536, want: "1.5 KiB"},
		{input: 1048576, want: "1.0 MiB"},
	}

	for _, tt := range tests {
		got := formatBytes(tt.input)
		if got != tt.want {
			t.Fatalf("formatBytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := formatTimestamp(""); got != "n/a" {
		t.Fatalf("formatTimestamp(empty) = %q, want %q", got, "n/a")
	}

	const ts = "2026-02-18 10:00:00"
	if got := formatTimestamp(ts); got != ts {
		t.Fatalf("formatTimestamp(value) = %q, want %q", got, ts)
	}
}

func TestDirUsage(t *testing.T) {
	root := t.TempDir()

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "file1.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file1: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, "file2.txt"), []byte("go"), 0o644); err != nil {
		t.Fatalf("write file2: %v", err)
	}

	bytes, files, err := dirUsage(root)
	if err != nil {
		t.Fatalf("dirUsage returned error: %v", err)
	}
	if files != 2 {
		t.Fatalf("dirUsage files = %d, want 2", files)
	}
	if bytes != 7 {
		t.Fatalf("dirUsage bytes = %d, want 7", bytes)
	}
}

func TestParseStatusArgs(t *testing.T) {
	opts, err := parseStatusArgs([]string{"--json"})
	if err != nil {
		t.Fatalf("parseStatusArgs returned error: %v", err)
	}
	if !opts.JSON {
		t.Fatalf("parseStatusArgs JSON = false, want true")
	}

	if _, err := parseStatusArgs([]string{"--bad"}); err == nil {
		t.Fatalf("parseStatusArgs expected error for unknown flag")
	}
}

func TestCollectStatus(t *testing.T) {
	dbPath := createDriftedDB(t)
	localPath := filepath.Join(t.TempDir(), "local")
	if err := os.MkdirAll(localPath, 0o755); err != nil {
		t.Fatalf("mkdir local: %v", err)
	}
	if err := os.WriteFile(filepath.Join(localPath, "000001.log"), []byte("pebble"), 0o644); err != nil {
		t.Fatalf("write local file: %v", err)
	}

	status := collectStatus(&config.Config{DatabasePath: dbPath, LocalStorePath: localPath})
	if !status.DBMetricsReady {
		t.Fatalf("DBMetricsReady = false, warning = %q", status.DBWarning)
	}
	if status.Rooms != 3 {
		t.Errorf("Rooms = %d, want 3", status.Rooms)
	}
	// m3 is soft-deleted.
	if status.Messages != 2 {
		t.Errorf("Messages = %d, want 2", status.Messages)
	}
	if status.UnreadMessages != 2 {
		t.Errorf("UnreadMessages = %d, want 2", status.UnreadMessages)
	}
	if status.LocalStoreFiles != 1 || status.LocalStoreSize != 6 {
		t.Errorf("local store = (%d files, %d bytes), want (1, 6)", status.LocalStoreFiles, status.LocalStoreSize)
	}
	if status.LatestMessageAt == "" {
		t.Errorf("LatestMessageAt is empty")
	}
}

func TestCollectStatusMissingDatabase(t *testing.T) {
	dir := t.TempDir()
	status := collectStatus(&config.Config{DatabasePath: filepath.Join(dir, "missing.db"), LocalStorePath: dir})
	if status.DBMetricsReady {
		t.Fatalf("DBMetricsReady = true, want false")
	}
	if !strings.HasPrefix(status.DBWarning, "database unavailable") {
		t.Errorf("DBWarning = %q, want database unavailable", status.DBWarning)
	}
}

func TestPrintStatusJSON(t *testing.T) {
	status := appStatus{
		GeneratedAt:    time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC),
		Environment:    "development",
		Port:           "8080",
		DatabasePath:   "/tmp/zentro.db",
		LocalStorePath: "/tmp/local",
		Users:          3,
		LocalStoreSize: 2048,
	}

	var out bytes.Buffer
	if err := printStatusJSON(&out, status); err != nil {
		t.Fatalf("printStatusJSON returned error: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if payload["environment"] != "development" {
		t.Fatalf("unexpected environment: %#v", payload["environment"])
	}
	storage, _ := payload["storage"].(map[string]any)
	if storage["local_store_hum"] != "2.0 KiB" {
		t.Fatalf("local_store_hum = %#v, want %q", storage["local_store_hum"], "2.0 KiB")
	}
}

func TestPrintStatus(t *testing.T) {
	var out bytes.Buffer
	printStatus(&out, appStatus{DBMetricsReady: true, Users: 4, OnlineUsers: 1, PendingRequests: 2})

	for _, want := range []string{"Zentro Status", "Users             : 4 (1 online)", "Pending requests  : 2"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("printStatus() output missing %q:\n%s", want, out.String())
		}
	}
}
