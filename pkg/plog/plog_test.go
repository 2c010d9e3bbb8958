package plog

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPlogLevels(t *testing.T) {
	// --- Setup: Redirect plog output to capture log output ---
	var logBuf bytes.Buffer
	SetOutput(&logBuf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})

	t.Run("Logs all levels when level is Debug", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelDebug)

		Debug("debug message", "key", "val1")
		Info("info message", "key", "val2")
		Warn("warn message")

		output := logBuf.String()

		if !strings.Contains(output, "level=DEBUG msg=\"debug message\" key=val1") {
			t.Errorf("expected debug message to be logged, but it wasn't. Got: %s", output)
		}
		if !strings.Contains(output, "level=INFO msg=\"info message\" key=val2") {
			t.Errorf("expected info message to be logged, but it wasn't. Got: %s", output)
		}
		if !strings.Contains(output, "level=WARN msg=\"warn message\"") {
			t.Errorf("expected warn message to be logged, but it wasn't. Got: %s", output)
		}
	})

	t.Run("Suppresses lower levels when level is Warn", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelWarn)

		Debug("debug message")
		Notice("notice message")
		Info("info message")

		output := logBuf.String()
		if strings.Contains(output, "level=DEBUG") || strings.Contains(output, "level=INFO") || strings.Contains(output, "level=NOTICE") {
			t.Errorf("expected no debug, notice or info output at warn level, but got: %s", output)
		}
	})

	t.Run("Logs Notice and above, but suppresses Debug", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelNotice)

		Debug("debug message")
		Notice("notice message", "key", "val1")
		Info("info message", "key", "val2")

		output := logBuf.String()
		if strings.Contains(output, "level=DEBUG msg=\"debug message\"") {
			t.Errorf("expected debug message to be suppressed at notice level, but it was logged. Got: %s", output)
		}
		if !strings.Contains(output, "level=NOTICE msg=\"notice message\" key=val1") {
			t.Errorf("expected notice message to be logged, but it wasn't. Got: %s", output)
		}
		if !strings.Contains(output, "level=INFO msg=\"info message\" key=val2") {
			t.Errorf("expected info message to be logged, but it wasn't. Got: %s", output)
		}
	})

	t.Run("Quiet mode suppresses info but keeps warnings", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelInfo)
		SetQuiet(true)
		defer SetQuiet(false)

		Info("info message")
		Error("error message")

		output := logBuf.String()
		if strings.Contains(output, "info message") {
			t.Errorf("expected info to be suppressed in quiet mode, got: %s", output)
		}
		if !strings.Contains(output, "level=ERROR msg=\"error message\"") {
			t.Errorf("expected error to be logged in quiet mode, got: %s", output)
		}
	})
}

func TestSetLogFile(t *testing.T) {
	var logBuf bytes.Buffer
	SetOutput(&logBuf)
	SetLevel(LevelInfo)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	logPath := filepath.Join(t.TempDir(), "pgl-sync.log")
	SetLogFile(logPath, 1, 1)
	Info("written twice", "pass", 1)
	CloseLogFile()
	Info("console only")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "msg=\"written twice\" pass=1") {
		t.Errorf("expected record in log file, got: %s", content)
	}
	if strings.Contains(string(content), "console only") {
		t.Errorf("expected detached file to stop receiving records, got: %s", content)
	}
	if !strings.Contains(logBuf.String(), "written twice") || !strings.Contains(logBuf.String(), "console only") {
		t.Errorf("expected console to receive both records, got: %s", logBuf.String())
	}
}

func TestLevelFromString(t *testing.T) {
	testCases := map[string]slog.Level{
		"debug":   LevelDebug,
		"NOTICE":  LevelNotice,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"error":   LevelError,
		"unknown": LevelInfo,
	}
	for in, want := range testCases {
		if got := LevelFromString(in); got != want {
			t.Errorf("LevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
