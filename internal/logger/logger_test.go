package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// capture sends log output to a buffer at level until the test ends
func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel(LevelWarn)
	})
	return &buf
}

func TestInit(t *testing.T) {
	// Test non-verbose (default)
	Init(false)
	if GetLevel() != LevelWarn {
		t.Errorf("Init(false) should set level to LevelWarn, got %v", GetLevel())
	}

	// Test verbose
	Init(true)
	if GetLevel() != LevelDebug {
		t.Errorf("Init(true) should set level to LevelDebug, got %v", GetLevel())
	}

	// Reset
	Init(false)
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if tt.level.String() != tt.expected {
				t.Errorf("Level(%d).String() = %v, want %v", tt.level, tt.level.String(), tt.expected)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelWarn)

	tests := []struct {
		name       string
		level      Level
		logFunc    func(string, ...interface{})
		shouldShow bool
	}{
		{"debug at debug level", LevelDebug, Debug, true},
		{"info at debug level", LevelDebug, Info, true},
		{"debug at info level", LevelInfo, Debug, false},
		{"info at info level", LevelInfo, Info, true},
		{"info at warn level", LevelWarn, Info, false},
		{"warn at warn level", LevelWarn, Warn, true},
		{"error at warn level", LevelWarn, Error, true},
		{"warn at error level", LevelError, Warn, false},
		{"error at error level", LevelError, Error, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			SetLevel(tt.level)

			tt.logFunc("test message")

			hasOutput := buf.Len() > 0
			if hasOutput != tt.shouldShow {
				t.Errorf("got output=%v, want output=%v", hasOutput, tt.shouldShow)
			}
		})
	}
}

func TestLogFormatting(t *testing.T) {
	buf := capture(t, LevelDebug)

	Debug("test %s %d", "message", 42)
	output := buf.String()

	if !strings.Contains(output, "level=DEBUG") {
		t.Errorf("Missing level=DEBUG: %s", output)
	}
	if !strings.Contains(output, `msg="test message 42"`) {
		t.Errorf("Missing formatted message: %s", output)
	}
}

func TestLogFields(t *testing.T) {
	buf := capture(t, LevelDebug)

	DebugFields("renewal check", map[string]interface{}{
		"subject":        "admin-client",
		"days_remaining": 12,
		"error":          fmt.Errorf("boom"),
	})
	output := buf.String()

	for _, want := range []string{"subject=admin-client", "days_remaining=12", "error=boom", `msg="renewal check"`} {
		if !strings.Contains(output, want) {
			t.Errorf("Missing %q in output: %s", want, output)
		}
	}
}

func TestLogFieldsSorted(t *testing.T) {
	buf := capture(t, LevelDebug)

	// Fields should be sorted alphabetically
	DebugFields("test", map[string]interface{}{
		"zebra": 1,
		"alpha": 2,
		"beta":  3,
	})
	output := buf.String()

	alphaIdx := strings.Index(output, "alpha=")
	betaIdx := strings.Index(output, "beta=")
	zebraIdx := strings.Index(output, "zebra=")

	if alphaIdx == -1 || betaIdx == -1 || zebraIdx == -1 {
		t.Fatalf("Missing fields in output: %s", output)
	}

	if !(alphaIdx < betaIdx && betaIdx < zebraIdx) {
		t.Errorf("Fields not sorted alphabetically: %s", output)
	}
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, LevelInfo)
	SetFormat(FormatJSON)
	t.Cleanup(func() { SetFormat(FormatText) })

	WarnFields("certificate nearing expiry", map[string]interface{}{"subject": "example.org", "days_remaining": 9})

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["level"] != "WARN" {
		t.Errorf("expected WARN level, got %v", rec["level"])
	}
	if rec["subject"] != "example.org" {
		t.Errorf("expected subject field, got %v", rec["subject"])
	}
}

func TestLogError(t *testing.T) {
	buf := capture(t, LevelError)

	// Test with nil error
	buf.Reset()
	LogError(nil, "should not log")
	if buf.Len() > 0 {
		t.Error("LogError with nil should not produce output")
	}

	// Test with actual error
	buf.Reset()
	LogError(fmt.Errorf("test error"), "operation failed")
	output := buf.String()
	if !strings.Contains(output, "level=ERROR") {
		t.Errorf("LogError should produce ERROR level: %s", output)
	}
	if !strings.Contains(output, "operation failed") {
		t.Errorf("LogError should contain message: %s", output)
	}
	if !strings.Contains(output, "test error") {
		t.Errorf("LogError should contain error: %s", output)
	}
}

func TestConcurrentLogging(t *testing.T) {
	buf := capture(t, LevelDebug)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			Debug("goroutine %d", n)
			Info("info from %d", n)
			DebugFields("fields", map[string]interface{}{"n": n})
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	expected := 300 // 100 goroutines * 3 log calls each

	if len(lines) != expected {
		t.Errorf("Expected %d log lines, got %d", expected, len(lines))
	}

	for i, line := range lines {
		if !strings.HasPrefix(line, "time=") {
			t.Errorf("Line %d may be corrupted: %s", i, line)
		}
	}
}

func TestEmptyFields(t *testing.T) {
	buf := capture(t, LevelDebug)

	DebugFields("no fields", nil)
	output := buf.String()

	if !strings.Contains(output, `msg="no fields"`) {
		t.Errorf("Message should be present: %s", output)
	}
}

func TestSlogShared(t *testing.T) {
	buf := capture(t, LevelInfo)

	Slog().Info("from slog", "k", "v")
	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("Slog() should write through the shared handler: %s", buf.String())
	}
}

func TestErrorFieldsJSON(t *testing.T) {
	buf := capture(t, LevelWarn)
	SetFormat(FormatJSON)
	t.Cleanup(func() { SetFormat(FormatText) })

	ErrorFields("renewal failed", map[string]interface{}{
		"kind":    "public",
		"subject": "example.org",
		"error":   fmt.Errorf("rate limited"),
	})

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	tests := map[string]string{
		"level":   "ERROR",
		"msg":     "renewal failed",
		"kind":    "public",
		"subject": "example.org",
		"error":   "rate limited",
	}
	for key, want := range tests {
		if rec[key] != want {
			t.Errorf("%s = %v, want %q", key, rec[key], want)
		}
	}
}
