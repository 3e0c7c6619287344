package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func logContents(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestDebugLevelEnablesDebugLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.log")
	logger, err := New(path, "test", "debug")
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("dropping malformed payload")
	_ = logger.Sync()

	if got := logContents(t, path); !strings.Contains(got, "dropping malformed payload") {
		t.Errorf("debug line missing from log file: %q", got)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.log")
	logger, err := New(path, "test", "loud")
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("invisible")
	logger.Info("visible")
	_ = logger.Sync()

	got := logContents(t, path)
	if strings.Contains(got, "invisible") {
		t.Error("debug line written at fallback info level")
	}
	if !strings.Contains(got, "visible") {
		t.Errorf("info line missing from log file: %q", got)
	}
}
