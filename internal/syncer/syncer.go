// Package syncer pulls Facebook conversations and messages into the
// local database. Pages sync in parallel on the task engine, gated by a
// shared concurrency group, and unchanged conversations are skipped by
// comparing Graph updated_time against the stored row.
package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/config"
	"chatsync/internal/eventbus"
	"chatsync/internal/graph"
	"chatsync/internal/storage"
	"chatsync/internal/task/engine"
	logx "chatsync/pkg/logx"
)

type Options struct {
	// Days forces the fetch window for every page; zero selects the
	// first-run/incremental window per page.
	Days int
	// Kind tags the sync_runs audit row ("manual", "scheduled", ...).
	Kind string
}

type PageResult struct {
	PageID        string
	PageName      string
	Conversations int
	Skipped       int
	Messages      int
	Err           error
}

type Result struct {
	RunID         string
	Pages         []PageResult
	PagesOK       int
	PagesFailed   int
	Conversations int
	Messages      int
	Skipped       int
	APICalls      int64
	CallRate      float64 // calls per minute over the run
	Took          time.Duration
}

type Service struct {
	store  *storage.Store
	client *graph.Client
	cfg    config.GraphConfig
	log    logx.Logger
	bus    eventbus.Bus
	eng    *engine.Service
	now    func() time.Time

	// Per-page overlap states shared across runs so a page never syncs
	// twice at once even when runs overlap.
	stateMu sync.Mutex
	states  map[string]*engine.RunState
}

func New(store *storage.Store, client *graph.Client, cfg config.GraphConfig, log logx.Logger, bus eventbus.Bus, eng *engine.Service) *Service {
	return &Service{
		store:  store,
		client: client,
		cfg:    cfg,
		log:    log,
		bus:    bus,
		eng:    eng,
		now:    time.Now,
		states: map[string]*engine.RunState{},
	}
}

// SetNow overrides the clock.
func (s *Service) SetNow(fn func() time.Time) { s.now = fn }

// isCorePage mirrors the configured core-page filter: bidirectional
// case-insensitive substring match.
func isCorePage(pageName string, core []string) bool {
	name := strings.ToLower(strings.TrimSpace(pageName))
	for _, c := range core {
		cl := strings.ToLower(strings.TrimSpace(c))
		if cl == "" {
			continue
		}
		if strings.Contains(name, cl) || strings.Contains(cl, name) {
			return true
		}
	}
	return false
}

type pageJob struct {
	page  storage.Page
	token string
	since time.Time
}

// Sync runs one full sync pass over the configured core pages.
//
// Tokens load before any network call; a missing or empty tokens file
// fails the run with remediation guidance.
func (s *Service) Sync(ctx context.Context, opts Options) (Result, error) {
	start := s.now()
	runID := uuid.NewString()
	kind := opts.Kind
	if kind == "" {
		kind = "manual"
	}
	callsBefore := s.client.Calls()

	tokens, err := graph.LoadTokens(s.cfg.TokensFile)
	if err != nil {
		return Result{RunID: runID}, fmt.Errorf("%w (create %s with page access tokens before running sync)", err, s.cfg.TokensFile)
	}
	s.log.Info("sync starting", logx.String("run_id", runID), logx.Int("tokens", len(tokens)))

	pages, err := s.store.Pages(ctx)
	if err != nil {
		return Result{RunID: runID}, fmt.Errorf("load pages: %w", err)
	}

	var jobs []pageJob
	for _, p := range pages {
		if !isCorePage(p.Name, s.cfg.CorePages) {
			continue
		}
		tok, ok := graph.FindToken(tokens, p.Name, s.cfg.PageAliases)
		if !ok || tok.Token == "" {
			s.log.Warn("no token for page; skipping", logx.String("page", p.Name))
			continue
		}

		days := opts.Days
		if days <= 0 {
			if _, synced, err := s.store.GetSyncState(ctx, p.ID); err != nil {
				return Result{RunID: runID}, fmt.Errorf("sync state for %s: %w", p.ID, err)
			} else if synced {
				days = s.cfg.IncrementalDays
			} else {
				days = s.cfg.FirstRunDays
			}
		}
		since := start.AddDate(0, 0, -days)
		s.log.Info("page queued", logx.String("page", p.Name), logx.Int("days", days))
		jobs = append(jobs, pageJob{page: p, token: tok.Token, since: since})
	}

	res := Result{RunID: runID}
	if len(jobs) == 0 {
		s.log.Warn("no pages to sync")
		return s.finish(ctx, res, start, callsBefore, kind, nil)
	}

	// One-shot runs have no started engine; sync pages inline instead of
	// failing every submit.
	results := make([]PageResult, len(jobs))
	if s.eng != nil && s.eng.Running() {
		var wg sync.WaitGroup
		for i, job := range jobs {
			i, job := i, job
			wg.Add(1)
			err := s.eng.Submit(ctx, engine.Task{
				Name:           "sync.page." + job.page.ID,
				ConcurrencyKey: "graph.pages",
				State:          s.pageState(job.page.ID),
				Opt: engine.TaskOptions{
					Overlap:          engine.OverlapSkipIfRunning,
					ConcurrencyLimit: s.cfg.Workers,
				},
				Run: func(c context.Context) error {
					defer wg.Done()
					results[i] = s.syncPage(c, job)
					return results[i].Err
				},
			})
			if err != nil {
				wg.Done()
				results[i] = PageResult{PageID: job.page.ID, PageName: job.page.Name, Err: err}
			}
		}
		wg.Wait()
	} else {
		for i, job := range jobs {
			results[i] = s.syncPage(ctx, job)
		}
	}

	return s.finish(ctx, res, start, callsBefore, kind, results)
}

func (s *Service) pageState(pageID string) *engine.RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[pageID]
	if st == nil {
		st = &engine.RunState{}
		s.states[pageID] = st
	}
	return st
}

func (s *Service) finish(ctx context.Context, res Result, start time.Time, callsBefore int64, kind string, results []PageResult) (Result, error) {
	var firstErr error
	for _, r := range results {
		res.Pages = append(res.Pages, r)
		res.Conversations += r.Conversations
		res.Messages += r.Messages
		res.Skipped += r.Skipped
		if r.Err != nil {
			res.PagesFailed++
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", r.PageName, r.Err)
			}
			s.log.Error("page sync failed", logx.String("page", r.PageName), logx.Err(r.Err))
			continue
		}
		res.PagesOK++
		s.log.Info("page synced",
			logx.String("page", r.PageName),
			logx.Int("conversations", r.Conversations),
			logx.Int("skipped", r.Skipped),
			logx.Int("messages", r.Messages))

		if err := s.store.PutSyncState(ctx, storage.SyncState{
			PageID:        r.PageID,
			LastSync:      s.now().UTC(),
			Conversations: r.Conversations,
			Messages:      r.Messages,
		}); err != nil {
			s.log.Error("save sync state failed", logx.String("page", r.PageName), logx.Err(err))
		}
	}

	res.Took = s.now().Sub(start)
	res.APICalls = s.client.Calls() - callsBefore
	if mins := res.Took.Minutes(); mins > 0 {
		res.CallRate = float64(res.APICalls) / mins
	}

	run := storage.SyncRun{
		RunID:         res.RunID,
		Kind:          kind,
		StartedAt:     start.UTC(),
		PagesOK:       res.PagesOK,
		PagesFailed:   res.PagesFailed,
		Conversations: res.Conversations,
		Messages:      res.Messages,
		Skipped:       res.Skipped,
		APICalls:      res.APICalls,
		Took:          res.Took,
	}
	if firstErr != nil {
		run.Error = firstErr.Error()
	}
	if err := s.store.RecordSyncRun(ctx, run); err != nil {
		s.log.Error("record sync run failed", logx.Err(err))
	}

	s.log.Info("sync complete",
		logx.String("run_id", res.RunID),
		logx.Int("pages_ok", res.PagesOK),
		logx.Int("pages_failed", res.PagesFailed),
		logx.Int("conversations", res.Conversations),
		logx.Int("skipped", res.Skipped),
		logx.Int("messages", res.Messages),
		logx.Int64("api_calls", res.APICalls),
		logx.Float64("calls_per_min", res.CallRate),
		logx.Duration("took", res.Took))

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSyncDone, Data: res})
	}
	return res, firstErr
}

// syncPage fetches one page's conversations, upserts their metadata, and
// fetches messages only for conversations whose updated_time moved.
func (s *Service) syncPage(ctx context.Context, job pageJob) PageResult {
	res := PageResult{PageID: job.page.ID, PageName: job.page.Name}

	convs, err := s.client.Conversations(ctx, job.page.ID, job.token, job.since)
	if err != nil {
		res.Err = fmt.Errorf("fetch conversations: %w", err)
		return res
	}
	if len(convs) == 0 {
		return res
	}

	existing, err := s.store.ConversationUpdatedTimes(ctx, job.page.ID)
	if err != nil {
		res.Err = fmt.Errorf("load existing conversations: %w", err)
		return res
	}

	var changed []graph.Conversation
	rows := make([]storage.Conversation, 0, len(convs))
	for _, c := range convs {
		rows = append(rows, storage.Conversation{
			ID:              c.ID,
			PageID:          job.page.ID,
			ParticipantID:   c.ParticipantID,
			ParticipantName: c.ParticipantName,
			UpdatedTime:     c.UpdatedTime,
			MessageCount:    c.MessageCount,
		})
		prev, ok := existing[c.ID]
		if ok && !c.UpdatedTime.IsZero() && !c.UpdatedTime.After(prev) {
			res.Skipped++
			continue
		}
		changed = append(changed, c)
	}

	// All conversation metadata is upserted, changed or not.
	for _, row := range rows {
		if err := s.store.UpsertConversation(ctx, row); err != nil {
			res.Err = fmt.Errorf("upsert conversation %s: %w", row.ID, err)
			return res
		}
	}
	res.Conversations = len(rows)

	for _, c := range changed {
		msgs, err := s.client.Messages(ctx, c.ID, job.token, job.since)
		if err != nil {
			res.Err = fmt.Errorf("fetch messages for %s: %w", c.ID, err)
			return res
		}
		if len(msgs) == 0 {
			continue
		}
		batch := make([]storage.Message, 0, len(msgs))
		for _, m := range msgs {
			batch = append(batch, storage.Message{
				MessageID:      m.ID,
				ConversationID: c.ID,
				PageID:         job.page.ID,
				SenderID:       m.SenderID,
				SenderName:     m.SenderName,
				Text:           m.Text,
				Time:           m.CreatedTime,
				FromPage:       m.SenderID == job.page.ID,
			})
		}
		if err := s.store.UpsertMessages(ctx, batch); err != nil {
			res.Err = fmt.Errorf("upsert messages for %s: %w", c.ID, err)
			return res
		}
		res.Messages += len(batch)

		if err := s.recalcConversation(ctx, c.ID); err != nil {
			res.Err = fmt.Errorf("response times for %s: %w", c.ID, err)
			return res
		}
	}
	return res
}

// recalcConversation recomputes response_time_seconds for one
// conversation: each page reply after a user message gets the positive
// delta to the most recent user message.
func (s *Service) recalcConversation(ctx context.Context, conversationID string) error {
	timings, err := s.store.ConversationTimings(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(timings) < 2 {
		return nil
	}

	var lastUser time.Time
	var updates []storage.ResponseTimeUpdate
	for _, m := range timings {
		if !m.FromPage {
			lastUser = m.Time
			continue
		}
		if lastUser.IsZero() {
			continue
		}
		secs := int64(m.Time.Sub(lastUser).Seconds())
		if secs > 0 {
			updates = append(updates, storage.ResponseTimeUpdate{RowID: m.RowID, Seconds: secs})
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return s.store.ApplyResponseTimes(ctx, updates)
}

// RecalcResponseTimes reruns the response-time walk over every stored
// conversation. No fetching happens.
func (s *Service) RecalcResponseTimes(ctx context.Context) (int, error) {
	ids, err := s.store.ConversationIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}
	s.log.Info("recalculating response times", logx.Int("conversations", len(ids)))

	processed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := s.recalcConversation(ctx, id); err != nil {
			return processed, fmt.Errorf("conversation %s: %w", id, err)
		}
		processed++
		if processed%1000 == 0 {
			s.log.Info("recalc progress", logx.Int("processed", processed), logx.Int("total", len(ids)))
		}
	}
	s.log.Info("recalc complete", logx.Int("processed", processed))
	return processed, nil
}
