package plog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSetOutputCapturesAllLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}) })

	Info("info message", "key", "value")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	for _, want := range []string{"info message", "warn message", "error message", "key=value"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestQuietSuppressesInfoOnly(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}) })

	SetQuiet(true)
	defer SetQuiet(false)

	Info("should not appear")
	Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("quiet mode leaked info output:\n%s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("quiet mode suppressed warning output:\n%s", out)
	}
}

func TestDebugRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetLevel(slog.LevelInfo)
		SetOutput(&bytes.Buffer{})
	})

	Debug("hidden debug")
	SetLevel(slog.LevelDebug)
	Debug("visible debug")

	out := buf.String()
	if strings.Contains(out, "hidden debug") {
		t.Errorf("debug emitted below configured level:\n%s", out)
	}
	if !strings.Contains(out, "visible debug") {
		t.Errorf("debug missing at debug level:\n%s", out)
	}
}
