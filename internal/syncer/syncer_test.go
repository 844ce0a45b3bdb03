package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/graph"
	"chatsync/internal/storage"
	"chatsync/internal/task/engine"
	logx "chatsync/pkg/logx"
)

// fakeGraph serves a fixed conversation set in the Graph envelope format.
type fakeGraph struct {
	updatedTime  string
	messageCalls atomic.Int64
	requests     atomic.Int64
}

func (f *fakeGraph) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/p1/conversations", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		fmt.Fprintf(w, `{"data":[{"id":"c1","updated_time":%q,"message_count":2,
			"participants":{"data":[{"id":"p1","name":"Juan365"},{"id":"u1","name":"Maria"}]}}]}`,
			f.updatedTime)
	})
	mux.HandleFunc("/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		f.messageCalls.Add(1)
		fmt.Fprint(w, `{"data":[
			{"id":"m1","message":"need help po","from":{"id":"u1","name":"Maria"},"created_time":"2026-08-20T08:00:00+0000"},
			{"id":"m2","message":"sure, on it","from":{"id":"p1","name":"Juan365"},"created_time":"2026-08-20T08:03:00+0000"}
		]}`)
	})
	return mux
}

func writeTokens(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "tokens.json")
	b, _ := json.Marshal(map[string]graph.Token{
		"Juan365": {PageName: "Juan365", Token: "tok-1"},
	})
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write tokens: %v", err)
	}
	return path
}

func newService(t *testing.T, baseURL, tokensFile string) (*Service, *storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "sync.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	client := graph.New(graph.Config{BaseURL: baseURL, CallsPerMinute: 60000, MinSpacing: time.Microsecond}, logx.Nop())
	cfg := config.GraphConfig{
		TokensFile:      tokensFile,
		CorePages:       []string{"Juan365"},
		FirstRunDays:    7,
		IncrementalDays: 2,
	}
	return New(st, client, cfg, logx.Nop(), nil, nil), st
}

func TestSyncFailsWithoutTokens(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	svc, st := newService(t, srv.URL, filepath.Join(t.TempDir(), "missing.json"))
	ctx := context.Background()
	if err := st.UpsertPage(ctx, storage.Page{ID: "p1", Name: "Juan365"}); err != nil {
		t.Fatalf("page: %v", err)
	}

	_, err := svc.Sync(ctx, Options{})
	if err == nil {
		t.Fatal("missing tokens file should fail the run")
	}
	if hits.Load() != 0 {
		t.Fatalf("no HTTP calls expected before token load, got %d", hits.Load())
	}
}

func TestSyncIngestsAndSkipsUnchanged(t *testing.T) {
	fg := &fakeGraph{updatedTime: "2026-08-20T08:03:00+0000"}
	srv := httptest.NewServer(fg.handler())
	defer srv.Close()

	svc, st := newService(t, srv.URL, writeTokens(t, t.TempDir()))
	ctx := context.Background()
	if err := st.UpsertPage(ctx, storage.Page{ID: "p1", Name: "Juan365"}); err != nil {
		t.Fatalf("page: %v", err)
	}

	res, err := svc.Sync(ctx, Options{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.PagesOK != 1 || res.Conversations != 1 || res.Messages != 2 || res.Skipped != 0 {
		t.Fatalf("first run result wrong: %+v", res)
	}
	if res.RunID == "" {
		t.Fatal("run id missing")
	}

	// Response time: page reply three minutes after the user message.
	timings, err := st.ConversationTimings(ctx, "c1")
	if err != nil || len(timings) != 2 {
		t.Fatalf("timings: %v %+v", err, timings)
	}
	msgs, err := st.MessagesBetween(ctx, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	var gotRT bool
	for _, m := range msgs {
		if m.FromPage && m.ResponseSeconds != nil && *m.ResponseSeconds == 180 {
			gotRT = true
		}
	}
	if !gotRT {
		t.Fatalf("expected a 180s response time: %+v", msgs)
	}

	// Second run: same updated_time, conversation skipped, no message fetch.
	res, err = svc.Sync(ctx, Options{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1: %+v", res.Skipped, res)
	}
	if res.Messages != 0 {
		t.Fatalf("unchanged conversation should not refetch messages: %+v", res)
	}
	if fg.messageCalls.Load() != 1 {
		t.Fatalf("message endpoint hit %d times, want 1", fg.messageCalls.Load())
	}

	// Sync state recorded, so the window is now incremental.
	if _, ok, err := st.GetSyncState(ctx, "p1"); err != nil || !ok {
		t.Fatalf("sync state missing: %v %v", ok, err)
	}
}

func TestSyncSkipsPagesWithoutToken(t *testing.T) {
	fg := &fakeGraph{updatedTime: "2026-08-20T08:03:00+0000"}
	srv := httptest.NewServer(fg.handler())
	defer srv.Close()

	svc, st := newService(t, srv.URL, writeTokens(t, t.TempDir()))
	svc.cfg.CorePages = []string{"Juan365", "JuanBingo"}
	ctx := context.Background()
	_ = st.UpsertPage(ctx, storage.Page{ID: "p1", Name: "Juan365"})
	_ = st.UpsertPage(ctx, storage.Page{ID: "p2", Name: "JuanBingo"})

	res, err := svc.Sync(ctx, Options{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	// Only the page with a token syncs; the other is skipped, not failed.
	if res.PagesOK != 1 || res.PagesFailed != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSyncRunsInlineWhenEngineNotStarted(t *testing.T) {
	fg := &fakeGraph{updatedTime: "2026-08-20T08:03:00+0000"}
	srv := httptest.NewServer(fg.handler())
	defer srv.Close()

	svc, st := newService(t, srv.URL, writeTokens(t, t.TempDir()))
	// Wired but never started, as in one-shot CLI runs.
	svc.eng = engine.New(engine.Config{Enabled: true}, logx.Nop(), nil)
	ctx := context.Background()
	if err := st.UpsertPage(ctx, storage.Page{ID: "p1", Name: "Juan365"}); err != nil {
		t.Fatalf("page: %v", err)
	}

	res, err := svc.Sync(ctx, Options{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.PagesOK != 1 || res.PagesFailed != 0 || res.Messages != 2 {
		t.Fatalf("inline fallback result wrong: %+v", res)
	}
}

func TestRecalcResponseTimes(t *testing.T) {
	svc, st := newService(t, "http://unused.invalid", "")
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)
	err := st.UpsertMessages(ctx, []storage.Message{
		{MessageID: "m1", ConversationID: "c9", PageID: "p1", Time: base},
		{MessageID: "m2", ConversationID: "c9", PageID: "p1", Time: base.Add(2 * time.Minute), FromPage: true},
		// A second page reply still measures from the same user message.
		{MessageID: "m3", ConversationID: "c9", PageID: "p1", Time: base.Add(5 * time.Minute), FromPage: true},
	})
	if err != nil {
		t.Fatalf("messages: %v", err)
	}

	n, err := svc.RecalcResponseTimes(ctx)
	if err != nil || n != 1 {
		t.Fatalf("recalc: n=%d err=%v", n, err)
	}

	timings, _ := st.ConversationTimings(ctx, "c9")
	msgs, _ := st.MessagesBetween(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	if len(timings) != 3 || len(msgs) != 3 {
		t.Fatalf("rows missing: %d %d", len(timings), len(msgs))
	}
	want := map[int64]int64{120: 120, 300: 300}
	for _, m := range msgs {
		offset := int64(m.Time.Sub(base).Seconds())
		if offset == 0 {
			if m.ResponseSeconds != nil {
				t.Fatalf("user message got a response time: %+v", m)
			}
			continue
		}
		exp := want[offset]
		if m.ResponseSeconds == nil || *m.ResponseSeconds != exp {
			t.Fatalf("reply at +%ds response seconds = %v, want %d", offset, m.ResponseSeconds, exp)
		}
	}
}

func TestIsCorePage(t *testing.T) {
	core := []string{"Juan365", "JuanBingo"}
	if !isCorePage("juan365 cares", core) {
		t.Fatal("page containing a core name should match")
	}
	if !isCorePage("Bingo", core) {
		t.Fatal("core name containing the page should match")
	}
	if isCorePage("Totally Different", core) {
		t.Fatal("unrelated page matched")
	}
}
