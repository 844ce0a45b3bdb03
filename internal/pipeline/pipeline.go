// Package pipeline runs the composite jobs: the daily run (message sync,
// schedule sync, aggregation, alert digest) and the monthly-style full
// resync. Steps run in a fixed order; a failed step does not stop the
// later ones, but fails the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"chatsync/internal/alerts"
	"chatsync/internal/eventbus"
	"chatsync/internal/sheet"
	"chatsync/internal/storage"
	"chatsync/internal/syncer"
	logx "chatsync/pkg/logx"
)

const (
	dateLayout = "2006-01-02"
	// Each step gets at most this long, mirroring the upstream runner.
	defaultStepTimeout = 30 * time.Minute

	dailyAggregateDays = 3
	resyncWindowDays   = 30
)

type MessageSyncer interface {
	Sync(ctx context.Context, opts syncer.Options) (syncer.Result, error)
	RecalcResponseTimes(ctx context.Context) (int, error)
}

type ScheduleSyncer interface {
	Sync(ctx context.Context, opts sheet.Options) (sheet.Summary, error)
}

// AggregateRunner adapts the stats service into the pipeline.
type AggregateRunner func(ctx context.Context, startDate, endDate string) error

type StepResult struct {
	Name string
	Took time.Duration
	Err  error
}

type Result struct {
	Kind  string
	Steps []StepResult
	Took  time.Duration
}

// OK reports whether every step succeeded.
func (r Result) OK() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return false
		}
	}
	return true
}

type Service struct {
	msgs      MessageSyncer
	roster    ScheduleSyncer
	aggregate AggregateRunner
	store     *storage.Store
	th        alerts.Thresholds
	loc       *time.Location
	log       logx.Logger
	bus       eventbus.Bus

	stepTimeout time.Duration
	now         func() time.Time
}

func New(msgs MessageSyncer, roster ScheduleSyncer, aggregate AggregateRunner, store *storage.Store, th alerts.Thresholds, loc *time.Location, log logx.Logger, bus eventbus.Bus) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		msgs:        msgs,
		roster:      roster,
		aggregate:   aggregate,
		store:       store,
		th:          th,
		loc:         loc,
		log:         log,
		bus:         bus,
		stepTimeout: defaultStepTimeout,
		now:         time.Now,
	}
}

// SetStepTimeout overrides the per-step bound.
func (s *Service) SetStepTimeout(d time.Duration) { s.stepTimeout = d }

// SetNow overrides the clock.
func (s *Service) SetNow(fn func() time.Time) { s.now = fn }

// Daily runs message sync, schedule sync, and a 3-day aggregation, then
// scans thresholds and publishes an alert digest. Every step runs even
// when an earlier one fails; the error reflects the first failure.
func (s *Service) Daily(ctx context.Context) (Result, error) {
	start, end := s.window(dailyAggregateDays)
	res := s.run(ctx, "daily", []step{
		{"message sync", func(c context.Context) error {
			_, err := s.msgs.Sync(c, syncer.Options{Kind: "daily"})
			return err
		}},
		{"schedule sync", func(c context.Context) error {
			_, err := s.roster.Sync(c, sheet.Options{})
			return err
		}},
		{"aggregation", func(c context.Context) error {
			return s.aggregate(c, start, end)
		}},
	})

	s.sendDigest(ctx, start, end)
	return s.finish(res)
}

// Resync forces a full refresh: 30-day message sync with response-time
// recalculation, schedule sync, and a 30-day aggregation.
func (s *Service) Resync(ctx context.Context) (Result, error) {
	start, end := s.window(resyncWindowDays)
	res := s.run(ctx, "resync", []step{
		{"message sync", func(c context.Context) error {
			_, err := s.msgs.Sync(c, syncer.Options{Kind: "resync", Days: resyncWindowDays})
			return err
		}},
		{"response time recalc", func(c context.Context) error {
			_, err := s.msgs.RecalcResponseTimes(c)
			return err
		}},
		{"schedule sync", func(c context.Context) error {
			_, err := s.roster.Sync(c, sheet.Options{})
			return err
		}},
		{"aggregation", func(c context.Context) error {
			return s.aggregate(c, start, end)
		}},
	})
	return s.finish(res)
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

func (s *Service) window(daysBack int) (startDate, endDate string) {
	now := s.now().In(s.loc)
	return now.AddDate(0, 0, -daysBack).Format(dateLayout), now.Format(dateLayout)
}

func (s *Service) run(ctx context.Context, kind string, steps []step) Result {
	runStart := s.now()
	s.log.Info("pipeline starting", logx.String("kind", kind), logx.Int("steps", len(steps)))

	res := Result{Kind: kind}
	for _, st := range steps {
		stepStart := s.now()
		s.log.Info("step starting", logx.String("step", st.name))

		stepCtx := ctx
		var cancel context.CancelFunc
		if s.stepTimeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, s.stepTimeout)
		}
		err := st.run(stepCtx)
		if cancel != nil {
			cancel()
		}

		took := s.now().Sub(stepStart)
		res.Steps = append(res.Steps, StepResult{Name: st.name, Took: took, Err: err})
		if err != nil {
			s.log.Error("step failed", logx.String("step", st.name), logx.Duration("took", took), logx.Err(err))
			continue
		}
		s.log.Info("step completed", logx.String("step", st.name), logx.Duration("took", took))
	}
	res.Took = s.now().Sub(runStart)
	return res
}

func (s *Service) finish(res Result) (Result, error) {
	for _, st := range res.Steps {
		status := "OK"
		if st.Err != nil {
			status = "FAILED"
		}
		s.log.Info("pipeline step summary",
			logx.String("step", st.Name), logx.String("status", status), logx.Duration("took", st.Took))
	}
	s.log.Info("pipeline finished",
		logx.String("kind", res.Kind), logx.Bool("ok", res.OK()), logx.Duration("took", res.Took))

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypePipelineDone, Data: res})
	}

	if !res.OK() {
		for _, st := range res.Steps {
			if st.Err != nil {
				return res, fmt.Errorf("%s: %w", st.Name, st.Err)
			}
		}
	}
	return res, nil
}

// sendDigest scans thresholds over the aggregation window and publishes
// the rendered digest for the notifier. No alerts, no message.
func (s *Service) sendDigest(ctx context.Context, startDate, endDate string) {
	if s.store == nil || s.bus == nil {
		return
	}
	found, err := alerts.Scan(ctx, s.store, s.th, startDate, endDate)
	if err != nil {
		s.log.Error("alert scan failed", logx.Err(err))
		return
	}
	digest := alerts.Digest(found, startDate, endDate)
	if digest == "" {
		s.log.Info("no alerts to report")
		return
	}
	counts := alerts.Counts(found)
	s.log.Info("alert digest published",
		logx.Int("critical", counts[alerts.Critical]),
		logx.Int("warnings", counts[alerts.Warning]),
		logx.Int("notices", counts[alerts.Info]))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeAlertDigest, Data: digest})
}
