package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewParsesLevel(t *testing.T) {
	log, err := New("warn", true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log.Core().Enabled(zap.InfoLevel) {
		t.Fatal("info must be disabled at warn level")
	}
	if !log.Core().Enabled(zap.ErrorLevel) {
		t.Fatal("error must be enabled at warn level")
	}

	if _, err := New("debug", false); err != nil {
		t.Fatalf("development logger: %v", err)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
