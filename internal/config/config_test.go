package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
database:
  path: data/chat.db
graph:
  tokens_file: tokens.json
  core_pages: ["Acme Main", "Acme Support"]
  calls_per_minute: 300
sheet:
  spreadsheet_id: sheet123
scheduler:
  enabled: true
  daily_at: "06:30"
notifier:
  enabled: false
  token: ${CHATSYNC_TEST_TOKEN}
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("CHATSYNC_TEST_TOKEN", "secret-token")
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "data/chat.db" {
		t.Fatalf("database.path = %q", cfg.Database.Path)
	}
	if cfg.Graph.CallsPerMinute != 300 {
		t.Fatalf("calls_per_minute = %d", cfg.Graph.CallsPerMinute)
	}
	if cfg.Notifier.Token != "secret-token" {
		t.Fatalf("env expansion failed: %q", cfg.Notifier.Token)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return committed config")
	}
}

func TestDefaultsApplied(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", "database:\n  path: x.db\n"))
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Graph.Workers != DefaultGraphWorkers {
		t.Fatalf("graph.workers = %d", cfg.Graph.Workers)
	}
	if cfg.Graph.APIVersion != DefaultGraphAPIVersion {
		t.Fatalf("graph.api_version = %q", cfg.Graph.APIVersion)
	}
	if cfg.Aggregate.Timezone != DefaultTimezone {
		t.Fatalf("aggregate.timezone = %q", cfg.Aggregate.Timezone)
	}
	if cfg.Scheduler.DailyAt != DefaultDailyAt {
		t.Fatalf("scheduler.daily_at = %q", cfg.Scheduler.DailyAt)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", "database:\n  path: x.db\nbogus: 1\n"))
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	body := "database:\n  path: x.db\naggregate:\n  timezone: Mars/Olympus\n"
	m := NewManager(writeConfig(t, "config.yaml", body))
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("expected timezone validation error")
	}
}

func TestValidateRejectsBadDuration(t *testing.T) {
	body := "database:\n  path: x.db\ngraph:\n  min_call_spacing: fast\n"
	m := NewManager(writeConfig(t, "config.yaml", body))
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("expected duration validation error")
	}
}

func TestWatchPublishesOnChange(t *testing.T) {
	path := writeConfig(t, "config.yaml", "database:\n  path: one.db\n")
	m := NewManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Give the watcher a moment to register before the write.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte("database:\n  path: two.db\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-sub:
		if cfg.Database.Path != "two.db" {
			t.Fatalf("database.path = %q", cfg.Database.Path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config update published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchSkipsInvalidUpdate(t *testing.T) {
	path := writeConfig(t, "config.yaml", "database:\n  path: good.db\n")
	m := NewManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	bad := "database:\n  path: other.db\naggregate:\n  timezone: Mars/Olympus\n"
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	time.Sleep(700 * time.Millisecond)

	if got := m.Get().Database.Path; got != "good.db" {
		t.Fatalf("invalid config was committed: %q", got)
	}
}
