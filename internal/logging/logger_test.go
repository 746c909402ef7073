package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		logged  []string
		dropped []string
	}{
		{"trace", []string{"trace message", "debug message", "info message"}, nil},
		{"debug", []string{"debug message", "info message"}, []string{"trace message"}},
		{"info", []string{"info message", "warn message"}, []string{"trace message", "debug message"}},
		{"warn", []string{"warn message", "error message"}, []string{"info message"}},
		{"error", []string{"error message"}, []string{"warn message"}},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tc.level, Output: &buf})

			logger.Trace().Msg("trace message")
			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")
			logger.Warn().Msg("warn message")
			logger.Error().Msg("error message")

			output := buf.String()
			for _, msg := range tc.logged {
				if !strings.Contains(output, msg) {
					t.Errorf("Expected %q to be logged at %s level", msg, tc.level)
				}
			}
			for _, msg := range tc.dropped {
				if strings.Contains(output, msg) {
					t.Errorf("Expected %q to NOT be logged at %s level", msg, tc.level)
				}
			}
		})
	}
}

func TestNewWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithComponent(Config{
		Level:  "info",
		Output: &buf,
	}, "tunnel")

	logger.Info().Msg("session opened")

	output := buf.String()
	if !strings.Contains(output, `"component":"tunnel"`) {
		t.Errorf("Expected component field in %q", output)
	}
	if !strings.Contains(output, "session opened") {
		t.Error("Expected log to contain message 'session opened'")
	}
}

func TestNew_PrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  "info",
		Pretty: true,
		Output: &buf,
	})

	logger.Info().Msg("relay ready")

	// Pretty output should contain the message (specific formatting may vary).
	if !strings.Contains(buf.String(), "relay ready") {
		t.Error("Expected pretty output to contain message 'relay ready'")
	}
}

func TestNew_DefaultOutput(t *testing.T) {
	// Nil output falls back to stdout and must not panic.
	logger := New(Config{Level: "info"})
	logger.Info().Msg("test message")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("Expected default level 'info', got '%s'", cfg.Level)
	}
	if cfg.Output != os.Stdout {
		t.Error("Expected default output to be stdout")
	}
}

func TestParseLevel(t *testing.T) {
	levels := []struct {
		level    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tc := range levels {
		t.Run(tc.level, func(t *testing.T) {
			if got := ParseLevel(tc.level); got != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.level, got, tc.expected)
			}
		})
	}
}

func TestIsTerminal_NonTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatalf("CreateTemp() failed: %v", err)
	}
	defer f.Close() // nolint:errcheck

	if IsTerminal(f) {
		t.Error("Expected regular file to not be a terminal")
	}
	if IsTerminal(nil) {
		t.Error("Expected nil file to not be a terminal")
	}
}
