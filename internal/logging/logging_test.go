package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New(false, "json")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("non-verbose logger should not enable debug")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("logger should enable info")
	}

	verbose, err := New(true, "text")
	if err != nil {
		t.Fatalf("New verbose failed: %v", err)
	}
	if !verbose.Core().Enabled(zapcore.DebugLevel) {
		t.Error("verbose logger should enable debug")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(false, "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestStageNilBase(t *testing.T) {
	logger := Stage(nil, "plan")
	if logger == nil {
		t.Fatal("Stage(nil, ...) should return a usable logger")
	}
	logger.Info("no-op")
}
