package logger

import (
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-translation-cache/types"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":    zapcore.DebugLevel,
		"INFO":     zapcore.InfoLevel,
		"warn":     zapcore.WarnLevel,
		"warning":  zapcore.WarnLevel,
		"error":    zapcore.ErrorLevel,
		"fatal":    zapcore.FatalLevel,
		"nonsense": zapcore.InfoLevel,
		"":         zapcore.InfoLevel,
	}
	for input, want := range cases {
		if got := parseLogLevel(input); got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewDefaultLogger(t *testing.T) {
	log, err := NewDefaultLogger(&types.LoggerConfig{Level: "debug"})
	if err != nil {
		t.Fatalf("NewDefaultLogger failed: %v", err)
	}
	if log == nil {
		t.Fatal("logger is nil")
	}

	// Nil config falls back to info on stdout.
	if _, err := NewDefaultLogger(nil); err != nil {
		t.Fatalf("NewDefaultLogger(nil) failed: %v", err)
	}
}

func TestErrorWithCause(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	wrapper := &ZapWrapper{Logger: zap.New(core)}

	cause := types.ErrEntryNotFound
	wrapped := errors.Wrap(cause, "lookup failed")
	wrapper.ErrorWithCause("remote read failed", wrapped)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["cause"] != cause.Error() {
		t.Fatalf("cause field = %v, want %v", fields["cause"], cause.Error())
	}

	// A nil error degrades to a plain error log.
	wrapper.ErrorWithCause("plain", nil)
	if logs.Len() != 2 {
		t.Fatalf("expected 2 log entries, got %d", logs.Len())
	}
}
