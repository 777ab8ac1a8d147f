package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestConfigureRespectsEnvOverride(t *testing.T) {
	t.Setenv(EnvLevel, "bogus")
	if err := Configure(testWriter{}, "info"); err == nil {
		t.Fatal("env override should be validated")
	}

	t.Setenv(EnvLevel, "debug")
	if err := Configure(testWriter{}, "info"); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if !slog.Default().Enabled(nil, slog.LevelDebug) {
		t.Fatal("env override to debug not applied")
	}
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }
