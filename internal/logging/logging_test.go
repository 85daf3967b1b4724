package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelWarn {
		t.Errorf("Expected default level %s, got %s", LevelWarn, cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("Expected default format %s, got %s", FormatText, cfg.Format)
	}
	if cfg.Output != "stderr" {
		t.Errorf("Expected default output 'stderr', got '%s'", cfg.Output)
	}
	if cfg.AddSource {
		t.Error("Expected AddSource to be false by default")
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("stderr text logger", func(t *testing.T) {
		logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: "stderr"})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if logger.Config().Output != "stderr" {
			t.Errorf("Expected config to be retained")
		}
	})

	t.Run("file logger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "scanconsole.log")
		logger, err := New(Config{Level: LevelInfo, Format: FormatJSON, Output: path})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		logger.Info("hello", "key", "value")

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read log file: %v", err)
		}
		if !strings.Contains(string(data), `"key":"value"`) {
			t.Errorf("Expected JSON log line, got %s", data)
		}
	})
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelWarn, Format: FormatText}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Info message should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("Warn message should be logged: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   LogLevel
		want string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{"WARN", "WARN"},
		{"bogus", "INFO"},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			if got := parseLevel(tt.in).String(); got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelDebug, Format: FormatJSON}, &buf)

	logger.WithComponent("dispatcher").WithRequestID("req-1").InfoScan("scan completed", "10.0.0.5", "kind", "ports")
	logger.ErrorSession("login failed", fmt.Errorf("invalid credentials"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(lines))
	}

	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	for key, want := range map[string]string{
		"component":  "dispatcher",
		"request_id": "req-1",
		"target":     "10.0.0.5",
		"kind":       "ports",
	} {
		if first[key] != want {
			t.Errorf("Expected %s=%s, got %v", key, want, first[key])
		}
	}

	var second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if second["component"] != "session" || second["error"] != "invalid credentials" {
		t.Errorf("Unexpected session log line: %v", second)
	}
}

func TestDefaultLogger(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewWithWriter(Config{Level: LevelDebug}, &buf))

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")

	for _, msg := range []string{"msg=d", "msg=i", "msg=w", "msg=e"} {
		if !strings.Contains(buf.String(), msg) {
			t.Errorf("Expected %q in output %s", msg, buf.String())
		}
	}
}
