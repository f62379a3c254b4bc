package monitoring

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetLogger(NewLogger(&buf, "text", "debug"))

	Component("stream").Ops("connect failed", "retry", 3)
	Component("stream").Diag("probe ok")

	out := buf.String()
	if !strings.Contains(out, "component=stream") {
		t.Errorf("missing component attribute: %q", out)
	}
	if !strings.Contains(out, "retry=3") {
		t.Errorf("missing retry attribute: %q", out)
	}
	if !strings.Contains(out, "probe ok") {
		t.Errorf("diag line missing at debug level: %q", out)
	}

	buf.Reset()
	SetLogger(nil)
	Component("stream").Error("dropped")
	if buf.Len() != 0 {
		t.Errorf("nil logger should mute output, got %q", buf.String())
	}
}

func TestTraceHiddenAtDebug(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetLogger(NewLogger(&buf, "json", "debug"))
	Component("pipeline").Trace("frame", "seq", 1)
	if buf.Len() != 0 {
		t.Errorf("trace should be hidden at debug level, got %q", buf.String())
	}

	SetLogger(NewLogger(&buf, "json", "trace"))
	Component("pipeline").Trace("frame", "seq", 1)
	if !strings.Contains(buf.String(), `"seq":1`) {
		t.Errorf("trace missing at trace level: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEvery(t *testing.T) {
	e := NewEvery(30)
	var allowed []int
	for i := 1; i <= 65; i++ {
		if e.Allow() {
			allowed = append(allowed, i)
		}
	}
	want := []int{1, 31, 61}
	if len(allowed) != len(want) {
		t.Fatalf("allowed = %v, want %v", allowed, want)
	}
	for i := range want {
		if allowed[i] != want[i] {
			t.Errorf("allowed[%d] = %d, want %d", i, allowed[i], want[i])
		}
	}

	e.Reset()
	if !e.Allow() {
		t.Error("first call after Reset should be allowed")
	}
}
