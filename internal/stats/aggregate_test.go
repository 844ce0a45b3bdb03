package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/storage"
	logx "chatsync/pkg/logx"
)

func TestDeriveShift(t *testing.T) {
	cases := map[int]string{
		6:  "Morning",
		13: "Morning",
		12: "Morning", // overlap resolves to Morning
		14: "Mid",
		21: "Mid",
		22: "Evening",
		2:  "Evening",
		5:  "Evening",
	}
	for hour, want := range cases {
		if got := DeriveShift(hour); got != want {
			t.Errorf("DeriveShift(%d) = %q, want %q", hour, got, want)
		}
	}
}

func TestMatchesShift(t *testing.T) {
	if !MatchesShift("Morning", "Morning") || !MatchesShift("GY", "Evening") || !MatchesShift("Evening", "Evening") {
		t.Fatal("expected matches")
	}
	if MatchesShift("Morning", "Mid") || MatchesShift("GY", "Morning") {
		t.Fatal("unexpected matches")
	}
}

func setupStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "agg.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// manila returns a UTC instant whose Asia/Manila wall clock is the given
// date and hour.
func manila(t *testing.T, y int, m time.Month, d, hour int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Manila")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return time.Date(y, m, d, hour, 0, 0, 0, loc).UTC()
}

func TestAggregateAttributesByShift(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	morning, _ := st.EnsureAgent(ctx, "MIGUI")
	mid, _ := st.EnsureAgent(ctx, "AKI")
	if err := st.UpsertPage(ctx, storage.Page{ID: "p1", Name: "Juan365"}); err != nil {
		t.Fatalf("page: %v", err)
	}
	_ = st.AssignAgentPage(ctx, storage.Assignment{AgentID: morning, PageID: "p1", Shift: "Morning"})
	_ = st.AssignAgentPage(ctx, storage.Assignment{AgentID: mid, PageID: "p1", Shift: "Mid"})

	rt := int64(120)
	msgs := []storage.Message{
		// 08:00 Manila: Morning only.
		{MessageID: "m1", ConversationID: "c1", PageID: "p1", Text: "need help", Time: manila(t, 2026, 8, 20, 8)},
		{MessageID: "m2", ConversationID: "c1", PageID: "p1", Text: "sure po", Time: manila(t, 2026, 8, 20, 8).Add(2 * time.Minute), FromPage: true},
		// 16:00 Manila: Mid only.
		{MessageID: "m3", ConversationID: "c2", PageID: "p1", Text: "question", Time: manila(t, 2026, 8, 20, 16)},
	}
	if err := st.UpsertMessages(ctx, msgs); err != nil {
		t.Fatalf("messages: %v", err)
	}
	timings, _ := st.ConversationTimings(ctx, "c1")
	_ = st.ApplyResponseTimes(ctx, []storage.ResponseTimeUpdate{{RowID: timings[1].RowID, Seconds: rt}})

	svc := New(st, config.AggregateConfig{Timezone: "Asia/Manila", SpielsStartDate: "2026-01-16"}, []string{"Juan365"}, logx.Nop())
	sum, err := svc.Aggregate(ctx, "2026-08-20", "2026-08-20")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if sum.Inserted != 2 {
		t.Fatalf("inserted = %d, want 2", sum.Inserted)
	}

	rows, err := st.StatsBetween(ctx, "2026-08-20", "2026-08-20")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	byName := map[string]storage.DailyStats{}
	for _, r := range rows {
		byName[r.AgentName] = r
	}

	m := byName["MIGUI"]
	if m.Received != 1 || m.Sent != 1 || m.AvgResponseSecs != 120 {
		t.Fatalf("MIGUI row wrong: %+v", m)
	}
	if m.Shift != "Morning" || m.ScheduleStatus != "present" || m.DutyHours != 8 {
		t.Fatalf("MIGUI defaults wrong: %+v", m)
	}

	a := byName["AKI"]
	if a.Received != 1 || a.Sent != 0 {
		t.Fatalf("AKI row wrong: %+v", a)
	}
}

func TestAggregateZeroesAbsentAgents(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	id, _ := st.EnsureAgent(ctx, "MIGUI")
	_ = st.UpsertPage(ctx, storage.Page{ID: "p1", Name: "Juan365"})
	_ = st.AssignAgentPage(ctx, storage.Assignment{AgentID: id, PageID: "p1", Shift: "Morning"})

	// Roster says absent on the 20th.
	_ = st.ApplyScheduleUpdates(ctx, []storage.ScheduleUpdate{
		{AgentID: id, Date: "2026-08-20", Status: "absent", Shift: "Morning", DutyHours: 8},
	})

	_ = st.UpsertMessages(ctx, []storage.Message{
		{MessageID: "m1", ConversationID: "c1", PageID: "p1", Text: "hi", Time: manila(t, 2026, 8, 20, 9)},
	})

	svc := New(st, config.AggregateConfig{Timezone: "Asia/Manila"}, []string{"Juan365"}, logx.Nop())
	sum, err := svc.Aggregate(ctx, "2026-08-20", "2026-08-20")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if sum.Zeroed != 1 {
		t.Fatalf("zeroed = %d, want 1", sum.Zeroed)
	}

	rows, _ := st.StatsBetween(ctx, "2026-08-20", "2026-08-20")
	if len(rows) != 1 || rows[0].Received != 0 || rows[0].Sent != 0 {
		t.Fatalf("absent agent activity not zeroed: %+v", rows)
	}
}

func TestAggregateCreditsSpielOwner(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	// KURT sends MAI's opening spiel; MAI owns the count.
	kurt, _ := st.EnsureAgent(ctx, "KURT")
	mai, _ := st.EnsureAgent(ctx, "MAI")
	_ = st.UpsertPage(ctx, storage.Page{ID: "p1", Name: "Juan365"})
	_ = st.AssignAgentPage(ctx, storage.Assignment{AgentID: kurt, PageID: "p1", Shift: "Morning"})
	_ = st.AssignAgentPage(ctx, storage.Assignment{AgentID: mai, PageID: "p1", Shift: "Mid"})

	// MAI has a roster row for the day but no message activity; the
	// owner-credit pass must still update it.
	_ = st.ApplyScheduleUpdates(ctx, []storage.ScheduleUpdate{
		{AgentID: mai, Date: "2026-08-20", Status: "present", Shift: "Mid", DutyHours: 8},
	})

	_ = st.UpsertMessages(ctx, []storage.Message{
		{
			MessageID: "m1", ConversationID: "c1", PageID: "p1", FromPage: true,
			Text: "What a JUANderful day! Paano po kita matutulungan Juankada?",
			Time: manila(t, 2026, 8, 20, 9),
		},
	})

	svc := New(st, config.AggregateConfig{Timezone: "Asia/Manila", SpielsStartDate: "2026-01-16"}, []string{"Juan365"}, logx.Nop())
	if _, err := svc.Aggregate(ctx, "2026-08-20", "2026-08-20"); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	rows, _ := st.StatsBetween(ctx, "2026-08-20", "2026-08-20")
	byName := map[string]storage.DailyStats{}
	for _, r := range rows {
		byName[r.AgentName] = r
	}
	if byName["KURT"].OpeningSpiels != 0 {
		t.Fatalf("KURT credited with spiel they don't own: %+v", byName["KURT"])
	}
	if byName["MAI"].OpeningSpiels != 1 {
		t.Fatalf("MAI not credited as spiel owner: %+v", byName["MAI"])
	}
}

func TestAggregateSkipsSpielsBeforeStartDate(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	mai, _ := st.EnsureAgent(ctx, "MAI")
	_ = st.UpsertPage(ctx, storage.Page{ID: "p1", Name: "Juan365"})
	_ = st.AssignAgentPage(ctx, storage.Assignment{AgentID: mai, PageID: "p1", Shift: "Morning"})
	_ = st.UpsertMessages(ctx, []storage.Message{
		{
			MessageID: "m1", ConversationID: "c1", PageID: "p1", FromPage: true,
			Text: "What a JUANderful day! Paano po kita matutulungan Juankada?",
			Time: manila(t, 2026, 1, 10, 9),
		},
	})

	svc := New(st, config.AggregateConfig{Timezone: "Asia/Manila", SpielsStartDate: "2026-01-16"}, []string{"Juan365"}, logx.Nop())
	if _, err := svc.Aggregate(ctx, "2026-01-10", "2026-01-10"); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	rows, _ := st.StatsBetween(ctx, "2026-01-10", "2026-01-10")
	if len(rows) != 1 || rows[0].OpeningSpiels != 0 {
		t.Fatalf("spiels counted before start date: %+v", rows)
	}
}
