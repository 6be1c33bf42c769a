package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestLogJSONWritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	t.Cleanup(func() { Logger().SetOutput(os.Stdout) })

	LogJSON(map[string]any{"type": "access", "status": 200})

	line := buf.String()
	if strings.Count(line, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", line)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if entry["type"] != "access" {
		t.Fatalf("type = %v, want access", entry["type"])
	}
}

func TestLogJSONUnmarshalableEntry(t *testing.T) {
	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	t.Cleanup(func() { Logger().SetOutput(os.Stdout) })

	LogJSON(map[string]any{"bad": func() {}})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("fallback line is not JSON: %v", err)
	}
	if entry["level"] != "error" {
		t.Fatalf("level = %v, want error", entry["level"])
	}
}
