package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "chatsync/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConversationUpsertAndSkipState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPage(ctx, Page{ID: "p1", Name: "Acme Main"}); err != nil {
		t.Fatalf("upsert page: %v", err)
	}

	first := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	c := Conversation{ID: "c1", PageID: "p1", ParticipantName: "Juan", UpdatedTime: first, MessageCount: 3}
	if err := s.UpsertConversation(ctx, c); err != nil {
		t.Fatalf("upsert conversation: %v", err)
	}

	times, err := s.ConversationUpdatedTimes(ctx, "p1")
	if err != nil {
		t.Fatalf("updated times: %v", err)
	}
	if !times["c1"].Equal(first) {
		t.Fatalf("updated_time = %v, want %v", times["c1"], first)
	}

	// Upsert with a newer time replaces the stored one.
	c.UpdatedTime = first.Add(time.Hour)
	c.MessageCount = 5
	if err := s.UpsertConversation(ctx, c); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	times, _ = s.ConversationUpdatedTimes(ctx, "p1")
	if !times["c1"].Equal(first.Add(time.Hour)) {
		t.Fatalf("updated_time not refreshed: %v", times["c1"])
	}
}

func TestMessageUpsertPreservesResponseTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	msgs := []Message{
		{MessageID: "m1", ConversationID: "c1", PageID: "p1", Text: "hi", Time: at},
		{MessageID: "m2", ConversationID: "c1", PageID: "p1", Text: "hello po", Time: at.Add(90 * time.Second), FromPage: true},
	}
	if err := s.UpsertMessages(ctx, msgs); err != nil {
		t.Fatalf("upsert messages: %v", err)
	}

	timings, err := s.ConversationTimings(ctx, "c1")
	if err != nil {
		t.Fatalf("timings: %v", err)
	}
	if len(timings) != 2 {
		t.Fatalf("got %d timings, want 2", len(timings))
	}
	if timings[0].FromPage || !timings[1].FromPage {
		t.Fatal("timing order or from_page flags wrong")
	}

	if err := s.ApplyResponseTimes(ctx, []ResponseTimeUpdate{{RowID: timings[1].RowID, Seconds: 90}}); err != nil {
		t.Fatalf("apply response times: %v", err)
	}

	// Re-upserting the same message must keep the computed response time.
	if err := s.UpsertMessages(ctx, msgs[1:]); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	acts, err := s.MessagesBetween(ctx, at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("messages between: %v", err)
	}
	var found bool
	for _, a := range acts {
		if a.FromPage && a.ResponseSeconds != nil && *a.ResponseSeconds == 90 {
			found = true
		}
	}
	if !found {
		t.Fatal("response_time_seconds lost on re-upsert")
	}
}

func TestSyncStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetSyncState(ctx, "p1"); err != nil || ok {
		t.Fatalf("expected no state, ok=%v err=%v", ok, err)
	}

	at := time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)
	if err := s.PutSyncState(ctx, SyncState{PageID: "p1", LastSync: at, Conversations: 12, Messages: 340}); err != nil {
		t.Fatalf("put state: %v", err)
	}
	st, ok, err := s.GetSyncState(ctx, "p1")
	if err != nil || !ok {
		t.Fatalf("get state: ok=%v err=%v", ok, err)
	}
	if !st.LastSync.Equal(at) || st.Messages != 340 {
		t.Fatalf("state mismatch: %+v", st)
	}
}

func TestScheduleUpdatesAndDailyStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.EnsureAgent(ctx, "MIGUI")
	if err != nil {
		t.Fatalf("ensure agent: %v", err)
	}
	if again, _ := s.EnsureAgent(ctx, "MIGUI"); again != id {
		t.Fatalf("EnsureAgent not idempotent: %d vs %d", again, id)
	}

	upd := []ScheduleUpdate{{AgentID: id, Date: "2026-08-20", Status: "present", Shift: "Mid", DutyHours: 8}}
	if err := s.ApplyScheduleUpdates(ctx, upd); err != nil {
		t.Fatalf("apply schedule: %v", err)
	}

	// Stats upsert must keep the roster fields set by the schedule sync.
	err = s.UpsertDailyStats(ctx, DailyStats{
		AgentID: id, Date: "2026-08-20",
		Received: 20, Sent: 18, AvgResponseSecs: 120, OpeningSpiels: 5,
	})
	if err != nil {
		t.Fatalf("upsert stats: %v", err)
	}

	rows, err := s.StatsBetween(ctx, "2026-08-20", "2026-08-20")
	if err != nil {
		t.Fatalf("stats between: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	got := rows[0]
	if got.Shift != "Mid" || got.ScheduleStatus != "present" {
		t.Fatalf("roster fields lost: %+v", got)
	}
	if got.Received != 20 || got.OpeningSpiels != 5 {
		t.Fatalf("activity fields wrong: %+v", got)
	}
}

func TestDailyStatsInsertDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.EnsureAgent(ctx, "AKI")
	if err := s.UpsertDailyStats(ctx, DailyStats{AgentID: id, Date: "2026-08-21", Sent: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	shift, status, duty, ok, err := s.ScheduleFor(ctx, id, "2026-08-21")
	if err != nil || !ok {
		t.Fatalf("schedule for: ok=%v err=%v", ok, err)
	}
	if shift != "Morning" || status != "present" || duty != 8.0 {
		t.Fatalf("defaults wrong: %q %q %v", shift, status, duty)
	}
}

func TestDedupWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	until := time.Now().Add(15 * time.Minute)
	if err := s.PutDedup(ctx, "alert:critical:rr", until); err != nil {
		t.Fatalf("put dedup: %v", err)
	}
	got, ok, err := s.GetDedup(ctx, "alert:critical:rr")
	if err != nil || !ok {
		t.Fatalf("get dedup: ok=%v err=%v", ok, err)
	}
	if got.Unix() != until.Unix() {
		t.Fatalf("until mismatch: %v vs %v", got, until)
	}
	if _, ok, _ := s.GetDedup(ctx, "missing"); ok {
		t.Fatal("unexpected hit for missing key")
	}
}
