package logger

import (
	"bytes"
	"strings"
	"testing"

	"showctl/internal/config"
)

func TestNewLoggerLevel(t *testing.T) {
	if _, err := newLogger(config.LogConf{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Error("expected an unknown level to fail")
	}
	l, err := newLogger(config.LogConf{Level: "warn"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if l.GetLevel() != "warning" {
		t.Errorf("expected warning, got %s", l.GetLevel())
	}
}

func TestModuleField(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(config.LogConf{Level: "info"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Module("transport").With(Fields{"slot": 3}).Info("bound")
	out := buf.String()
	// Keys are colour coded, so only the values are matched.
	if !strings.Contains(out, "=transport") || !strings.Contains(out, "=3") || !strings.Contains(out, "bound") {
		t.Errorf("expected module and slot fields, got %q", out)
	}
}
