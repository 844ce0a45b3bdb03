// Package schedule registers cron triggers for the daemon: the daily
// pipeline run and the incremental sync interval. Jobs run on the cron
// goroutine only long enough to hand work to the task engine.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "chatsync/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string
}

type Job func(ctx context.Context)

type entry struct {
	name    string
	spec    string
	job     Job
	entryID cron.EntryID
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []entry

	runCtx    context.Context
	runCancel context.CancelFunc
}

// EntryInfo describes one registered trigger.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return &Service{
		cfg: cfg,
		log: log,
		loc: loc,
		// SecondOptional allows both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}, nil
}

// DailySpec converts an "HH:MM" wall-clock time to a cron spec.
func DailySpec(hhmm string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(hhmm), ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("daily time %q: want HH:MM", hhmm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("daily time %q: bad hour", hhmm)
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return "", fmt.Errorf("daily time %q: bad minute", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", min, hour), nil
}

// AddDaily registers job to fire every day at hhmm local time.
func (s *Service) AddDaily(name, hhmm string, job Job) error {
	spec, err := DailySpec(hhmm)
	if err != nil {
		return err
	}
	return s.AddCron(name, spec, job)
}

// AddEvery registers job to fire on a fixed interval.
func (s *Service) AddEvery(name string, every time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}
	return s.AddCron(name, "@every "+every.String(), job)
}

// AddCron registers job under a raw cron spec. Safe before or after
// Start.
func (s *Service) AddCron(name, spec string, job Job) error {
	if job == nil {
		return fmt.Errorf("schedule %s: job is nil", name)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: parse %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = append(s.defs, entry{name: name, spec: spec, job: job})
	if s.c != nil {
		s.registerLocked(&s.defs[len(s.defs)-1])
	}
	return nil
}

// registerLocked adds def to the running cron. Call with s.mu held.
func (s *Service) registerLocked(def *entry) {
	name, job := def.name, def.job
	id, err := s.c.AddFunc(def.spec, func() {
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		s.log.Debug("schedule fired", logx.String("schedule", name))
		job(ctx)
	})
	if err != nil {
		// Specs are validated in AddCron, so this is unexpected.
		s.log.Error("cron registration failed", logx.String("schedule", name), logx.Err(err))
		return
	}
	def.entryID = id
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		s.registerLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Any("err", ctx.Err()))
	}
}

// Entries reports the registered triggers with next/prev fire times
// when running.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]EntryInfo, 0, len(s.defs))
	for _, def := range s.defs {
		info := EntryInfo{Name: def.name, Spec: def.spec}
		if s.c != nil && def.entryID != 0 {
			e := s.c.Entry(def.entryID)
			info.Next = e.Next
			info.Prev = e.Prev
		}
		out = append(out, info)
	}
	return out
}
