package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/salephoto/genflow-core/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSetup_Stdout(t *testing.T) {
	logger, closer, err := Setup(config.LoggingConfig{Output: "stdout", Level: "info"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if closer != nil {
		t.Error("expected nil closer for stdout output")
	}
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genflow.log")

	logger, closer, err := Setup(config.LoggingConfig{Output: path, Level: "debug", MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if closer == nil {
		t.Fatal("expected closer for file output")
	}
	defer closer.Close()

	logger.Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected log output in file")
	}
}
