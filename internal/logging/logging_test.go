package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/rcardenes/epics-tools/internal/config"
)

func TestManagerConfigure_WritesToLogFile(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	logPath := filepath.Join(t.TempDir(), "caget.log")
	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Configure(config.LoggingConfig{Level: "debug", LogToFile: true}, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	m.Logger("test").Info("file must receive this message")

	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	raw, err := os.ReadFile(filepath.Clean(logPath))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(raw, []byte("file must receive this message")) {
		t.Fatalf("log file does not contain test message, contents: %q", string(raw))
	}
	if !bytes.Contains(raw, []byte("component=test")) {
		t.Fatalf("log file does not carry component attribute, contents: %q", string(raw))
	}
}

func TestManagerConfigure_RejectsUnknownLevel(t *testing.T) {
	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })

	err := m.Configure(config.LoggingConfig{Level: "chatty"}, "")
	if err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw     string
		want    slog.Level
		wantErr bool
	}{
		{raw: "debug", want: slog.LevelDebug},
		{raw: "info", want: slog.LevelInfo},
		{raw: "", want: slog.LevelInfo},
		{raw: "WARNING", want: slog.LevelWarn},
		{raw: " error ", want: slog.LevelError},
		{raw: "verbose", wantErr: true},
	}
	for _, tc := range tests {
		level, err := parseLevel(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error, got nil", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.raw, err)
		}
		if level.Level() != tc.want {
			t.Fatalf("%q: expected level %v, got %v", tc.raw, tc.want, level.Level())
		}
	}
}
