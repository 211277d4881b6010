package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newBufferLogger(t *testing.T, level LogLevel, format LogFormat) (*StructuredLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  level,
		Output: &buf,
		Format: format,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger, &buf
}

func TestLogLevels(t *testing.T) {
	logger, buf := newBufferLogger(t, INFO, FormatText)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message was logged when level is INFO")
	}

	logger.Info("info message")
	if !strings.Contains(buf.String(), "[INFO] info message") {
		t.Errorf("Info message not found in output: %q", buf.String())
	}

	buf.Reset()
	logger.Warn("free space low", map[string]interface{}{"blocks": 42})
	if !strings.Contains(buf.String(), "[WARN] free space low") || !strings.Contains(buf.String(), "blocks=42") {
		t.Errorf("Warn output = %q", buf.String())
	}
}

func TestTextFieldsAreSorted(t *testing.T) {
	logger, buf := newBufferLogger(t, DEBUG, FormatText)

	logger.WithComponent("capacity").Info("rule changed", map[string]interface{}{
		"rule":   "disk",
		"blocks": 100,
		"err":    errors.New("none"),
	})

	want := "rule changed {blocks=100, component=capacity, err=none, rule=disk}"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("output = %q, want it to contain %q", buf.String(), want)
	}
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newBufferLogger(t, DEBUG, FormatJSON)

	logger.WithField("session", "propfaker").Error("statfs failed", map[string]interface{}{
		"error": errors.New("EIO"),
	})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if entry.Level != "ERROR" || entry.Message != "statfs failed" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Fields["session"] != "propfaker" || entry.Fields["error"] != "EIO" {
		t.Errorf("fields = %v", entry.Fields)
	}
}

func TestComponentLevels(t *testing.T) {
	root, buf := newBufferLogger(t, INFO, FormatText)
	root.SetComponentLevel("dispatcher", TRACE)

	root.WithComponent("dispatcher").Trace("op LOOKUP")
	if !strings.Contains(buf.String(), "op LOOKUP") {
		t.Error("component level should enable TRACE for dispatcher")
	}

	buf.Reset()
	root.WithComponent("session").Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("session debug should be filtered, got %q", buf.String())
	}
}

func TestDerivedLoggersDoNotShareFields(t *testing.T) {
	root, buf := newBufferLogger(t, INFO, FormatText)
	_ = root.WithField("a", 1)

	root.Info("plain")
	if strings.Contains(buf.String(), "a=1") {
		t.Errorf("root logger picked up derived field: %q", buf.String())
	}
}

func TestStdLogger(t *testing.T) {
	logger, buf := newBufferLogger(t, DEBUG, FormatText)

	std := logger.StdLogger(DEBUG)
	std.Printf("rx 12: STATFS i1")
	std.Print("line one\nline two")

	out := buf.String()
	for _, want := range []string{"[DEBUG] rx 12: STATFS i1", "[DEBUG] line one", "[DEBUG] line two"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestConcurrentLogging(t *testing.T) {
	logger, buf := newBufferLogger(t, INFO, FormatText)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.WithField("worker", i).Info("query")
		}(i)
	}
	wg.Wait()

	if got := strings.Count(buf.String(), "query"); got != 20 {
		t.Errorf("got %d lines, want 20", got)
	}
}

func TestLoggerWithRotation(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "fspropfaker.log")
	logger, err := NewStructuredLogger(&StructuredLoggerConfig{
		Level:    INFO,
		Format:   FormatText,
		Rotation: &RotationConfig{Filename: logFile},
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Info("mounted")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "mounted") {
		t.Errorf("log file content = %q", data)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	if logger.IsEnabled(FATAL) {
		t.Error("nop logger should not enable any level")
	}
	logger.Error("dropped")
}
