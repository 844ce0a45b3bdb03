package logx

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"nonsense", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := parseLevel(c.in, zerolog.InfoLevel); got != c.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

type captureSink struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureSink) Alert(level, line string) {
	c.mu.Lock()
	c.lines = append(c.lines, level+" "+line)
	c.mu.Unlock()
}

func TestAlertForwardingRespectsMinLevel(t *testing.T) {
	svc, log := New(Config{
		Level:   "debug",
		Console: false,
		Alert:   AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 100},
	})
	defer svc.Close()

	sink := &captureSink{}
	svc.SetAlertSink(sink)

	log.Warn("below threshold")
	log.Error("boom")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.lines) != 1 {
		t.Fatalf("expected 1 forwarded line, got %d: %v", len(sink.lines), sink.lines)
	}
	if sink.lines[0] != "ERROR boom" {
		t.Fatalf("unexpected forwarded line: %q", sink.lines[0])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// Must not panic.
	l.Info("noop", String("k", "v"))
}
