// Package stats rolls message and comment activity up into per-agent
// daily rows.
//
// Attribution goes through agent_page_assignments: a message counts for an
// agent when its page matches an assignment and its local-time hour falls
// in the assignment's shift.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/spiel"
	"chatsync/internal/storage"
	logx "chatsync/pkg/logx"
)

const dateLayout = "2006-01-02"

// DeriveShift buckets a local-time hour. The Morning and Mid windows
// overlap at [12,14); Morning wins there.
func DeriveShift(hour int) string {
	switch {
	case hour >= 6 && hour < 14:
		return "Morning"
	case hour >= 12 && hour < 22:
		return "Mid"
	default:
		return "Evening"
	}
}

// MatchesShift reports whether an assignment shift covers a derived shift.
// Evening and GY assignments both cover the derived Evening bucket.
func MatchesShift(assigned, derived string) bool {
	if assigned == derived {
		return true
	}
	return derived == "Evening" && (assigned == "Evening" || assigned == "GY")
}

type Service struct {
	store     *storage.Store
	cfg       config.AggregateConfig
	corePages []string
	log       logx.Logger
	now       func() time.Time
}

func New(store *storage.Store, cfg config.AggregateConfig, corePages []string, log logx.Logger) *Service {
	return &Service{store: store, cfg: cfg, corePages: corePages, log: log, now: time.Now}
}

// SetNow overrides the clock.
func (s *Service) SetNow(fn func() time.Time) { s.now = fn }

type Summary struct {
	Updated      int
	Inserted     int
	Zeroed       int
	SpielUpdates int
}

type rollup struct {
	received int
	sent     int
	rtSum    int64
	rtCount  int
	comments int
}

type agentDate struct {
	agentID int64
	date    string
}

// Aggregate processes [startDate, endDate] (YYYY-MM-DD, reporting
// timezone). Empty bounds default to today-7 .. today.
func (s *Service) Aggregate(ctx context.Context, startDate, endDate string) (Summary, error) {
	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return Summary{}, fmt.Errorf("load timezone %q: %w", s.cfg.Timezone, err)
	}
	now := s.now().In(loc)
	if endDate == "" {
		endDate = now.Format(dateLayout)
	}
	if startDate == "" {
		startDate = now.AddDate(0, 0, -7).Format(dateLayout)
	}
	start, err := time.ParseInLocation(dateLayout, startDate, loc)
	if err != nil {
		return Summary{}, fmt.Errorf("start date: %w", err)
	}
	end, err := time.ParseInLocation(dateLayout, endDate, loc)
	if err != nil {
		return Summary{}, fmt.Errorf("end date: %w", err)
	}
	if end.Before(start) {
		return Summary{}, fmt.Errorf("end date %s before start date %s", endDate, startDate)
	}
	windowEnd := end.AddDate(0, 0, 1)

	s.log.Info("starting daily stats aggregation",
		logx.String("start", startDate), logx.String("end", endDate))

	assignments, err := s.store.Assignments(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load assignments: %w", err)
	}
	byPage := map[string][]storage.Assignment{}
	for _, a := range assignments {
		byPage[a.PageID] = append(byPage[a.PageID], a)
	}

	agents, err := s.store.Agents(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load agents: %w", err)
	}
	agentName := map[int64]string{}
	for _, a := range agents {
		agentName[a.ID] = a.Name
	}

	rollups := map[agentDate]*rollup{}
	touch := func(id int64, date string) *rollup {
		k := agentDate{id, date}
		r := rollups[k]
		if r == nil {
			r = &rollup{}
			rollups[k] = r
		}
		return r
	}

	msgs, err := s.store.MessagesBetween(ctx, start.UTC(), windowEnd.UTC())
	if err != nil {
		return Summary{}, fmt.Errorf("load messages: %w", err)
	}
	for _, m := range msgs {
		local := m.Time.In(loc)
		derived := DeriveShift(local.Hour())
		date := local.Format(dateLayout)
		for _, a := range byPage[m.PageID] {
			if !MatchesShift(a.Shift, derived) {
				continue
			}
			r := touch(a.AgentID, date)
			if m.FromPage {
				r.sent++
				if m.ResponseSeconds != nil && *m.ResponseSeconds > 0 {
					r.rtSum += *m.ResponseSeconds
					r.rtCount++
				}
			} else {
				r.received++
			}
		}
	}

	comments, err := s.store.CommentsBetween(ctx, start.UTC(), windowEnd.UTC())
	if err != nil {
		return Summary{}, fmt.Errorf("load comments: %w", err)
	}
	for _, c := range comments {
		if c.ReplyCount <= 0 {
			continue
		}
		local := c.Time.In(loc)
		derived := DeriveShift(local.Hour())
		date := local.Format(dateLayout)
		for _, a := range byPage[c.PageID] {
			if MatchesShift(a.Shift, derived) {
				touch(a.AgentID, date).comments += c.ReplyCount
			}
		}
	}

	ownerCounts, err := s.spielCountsByDate(ctx, start, windowEnd, loc)
	if err != nil {
		return Summary{}, err
	}

	keys := make([]agentDate, 0, len(rollups))
	for k := range rollups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		return keys[i].agentID < keys[j].agentID
	})

	var sum Summary
	for _, k := range keys {
		r := rollups[k]
		name := agentName[k.agentID]
		_, status, _, exists, err := s.store.ScheduleFor(ctx, k.agentID, k.date)
		if err != nil {
			return sum, fmt.Errorf("schedule lookup: %w", err)
		}

		if exists && (status == "absent" || status == "off") {
			if err := s.store.ZeroActivity(ctx, k.agentID, k.date); err != nil {
				return sum, err
			}
			s.log.Info("roster marks agent out; activity zeroed",
				logx.String("agent", name), logx.String("date", k.date), logx.String("status", status))
			sum.Zeroed++
			continue
		}

		counts := ownerCounts[k.date][spiel.NormalizeName(name)]
		avg := 0.0
		if r.rtCount > 0 {
			avg = float64(r.rtSum) / float64(r.rtCount)
		}
		err = s.store.UpsertDailyStats(ctx, storage.DailyStats{
			AgentID:         k.agentID,
			Date:            k.date,
			Received:        r.received,
			Sent:            r.sent,
			AvgResponseSecs: avg,
			CommentReplies:  r.comments,
			OpeningSpiels:   counts.Opening,
			ClosingSpiels:   counts.Closing,
		})
		if err != nil {
			return sum, fmt.Errorf("upsert stats for %s on %s: %w", name, k.date, err)
		}
		if exists {
			sum.Updated++
		} else {
			sum.Inserted++
		}
	}

	// Configured spiel owners get their counts refreshed on existing rows
	// even with no message activity of their own.
	spielStart := s.spielsStart(loc)
	for d := start; d.Before(windowEnd); d = d.AddDate(0, 0, 1) {
		if d.Before(spielStart) {
			continue
		}
		date := d.Format(dateLayout)
		counts := ownerCounts[date]
		for _, a := range agents {
			if !a.Active {
				continue
			}
			canon := spiel.NormalizeName(a.Name)
			if _, ok := spiel.Agents[canon]; !ok {
				continue
			}
			c := counts[canon]
			if err := s.store.UpdateSpielCounts(ctx, a.ID, date, c.Opening, c.Closing); err != nil {
				return sum, err
			}
			if c.Opening > 0 || c.Closing > 0 {
				sum.SpielUpdates++
			}
		}
	}

	s.log.Info("aggregation complete",
		logx.Int("updated", sum.Updated), logx.Int("inserted", sum.Inserted),
		logx.Int("zeroed", sum.Zeroed), logx.Int("spiel_updates", sum.SpielUpdates))
	return sum, nil
}

func (s *Service) spielsStart(loc *time.Location) time.Time {
	raw := s.cfg.SpielsStartDate
	if raw == "" {
		raw = "2026-01-16"
	}
	t, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// spielCountsByDate counts spiel matches per local date, credited to the
// spiel owner. Only outgoing core-page messages that pass the key-phrase
// prefilter go through the fuzzy match.
func (s *Service) spielCountsByDate(ctx context.Context, start, end time.Time, loc *time.Location) (map[string]map[string]spiel.Counts, error) {
	out := map[string]map[string]spiel.Counts{}

	spielStart := s.spielsStart(loc)
	if spielStart.IsZero() || !end.After(spielStart) {
		return out, nil
	}
	if start.Before(spielStart) {
		start = spielStart
	}

	pages, err := s.store.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	core := map[string]bool{}
	for _, p := range pages {
		for _, name := range s.corePages {
			if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
				core[p.ID] = true
			}
		}
	}
	if len(core) == 0 {
		return out, nil
	}

	phrases := append(spiel.KeyPhrases(spiel.Opening), spiel.KeyPhrases(spiel.Closing)...)

	outgoing, err := s.store.OutgoingMessagesBetween(ctx, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("load outgoing messages: %w", err)
	}

	byDate := map[string][]string{}
	for _, m := range outgoing {
		if !core[m.PageID] {
			continue
		}
		lower := strings.ToLower(m.Text)
		matched := false
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		date := m.Time.In(loc).Format(dateLayout)
		byDate[date] = append(byDate[date], m.Text)
	}

	for date, texts := range byDate {
		out[date] = spiel.CountByOwner(texts)
	}
	return out, nil
}
