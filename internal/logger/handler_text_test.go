package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTextHandlerRendersKeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newTextHandler(&buf, nil, false))

	l.Info("session created", "session_id", 7, "remote_addr", "127.0.0.1:99")

	line := buf.String()
	if !strings.Contains(line, "[INFO] session created") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "session_id=7") || !strings.Contains(line, "remote_addr=127.0.0.1:99") {
		t.Fatalf("missing attrs: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("line not newline-terminated: %q", line)
	}
}

func TestTextHandlerBoundAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newTextHandler(&buf, nil, false)).
		With("component", "adapter").
		WithGroup("wire")

	l.Info("frame", "opcode", "LOCK")

	out := buf.String()
	if !strings.Contains(out, "component=adapter") {
		t.Fatalf("bound attr missing: %q", out)
	}
	if !strings.Contains(out, "wire.opcode=LOCK") {
		t.Fatalf("group prefix missing: %q", out)
	}
}

func TestTextHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelWarn)
	l := slog.New(newTextHandler(&buf, &slog.HandlerOptions{Level: lv}, false))

	l.Info("dropped")
	l.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record should have been filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] kept") {
		t.Fatalf("warn record missing: %q", out)
	}
}
