package cli

import (
	"bytes"
	"context"
	"testing"
)

func runArgs(t *testing.T, args ...string) error {
	t.Helper()
	root := newRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestUnknownCommandFails(t *testing.T) {
	if err := runArgs(t, "frobnicate"); err == nil {
		t.Fatal("unknown command should fail")
	}
}

func TestScheduleRejectsBadDate(t *testing.T) {
	err := runArgs(t, "schedule", "--date", "27-08-2026", "--config", "does-not-matter.yaml")
	if err == nil {
		t.Fatal("malformed date should fail before any work starts")
	}
}

func TestMissingConfigFails(t *testing.T) {
	if err := runArgs(t, "sync", "--config", "no-such-config.yaml"); err == nil {
		t.Fatal("missing config file should fail")
	}
}

func TestHelpListsCommands(t *testing.T) {
	root := newRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, name := range []string{"daemon", "sync", "schedule", "aggregate", "daily", "resync", "publish"} {
		if !bytes.Contains(out.Bytes(), []byte(name)) {
			t.Fatalf("help output missing %q:\n%s", name, out.String())
		}
	}
}
