package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "chatsync/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestSubmitRunsTask(t *testing.T) {
	s := startEngine(t, Config{Workers: 1})

	done := make(chan struct{})
	err := s.Submit(context.Background(), Task{
		Name: "once",
		Run: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestEnqueueStates(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled engine should reject, got %v", err)
	}

	s = New(Config{Enabled: true}, logx.Nop(), nil)
	err = s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped engine should reject, got %v", err)
	}

	if err := s.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatal("nil Run should be rejected")
	}
	if err := s.Enqueue(Task{Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("empty Name should be rejected")
	}
}

func TestRetryThenSucceed(t *testing.T) {
	s := startEngine(t, Config{Workers: 1})

	var attempts int32
	done := make(chan struct{})
	err := s.Submit(context.Background(), Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryMax: 3, RetryBase: time.Millisecond, RetryJitter: 0.01},
		Run: func(ctx context.Context) error {
			if atomic.AddInt32(&attempts, 1) < 2 {
				return errors.New("transient")
			}
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never succeeded")
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestNoRetrySkipsRetries(t *testing.T) {
	s := startEngine(t, Config{Workers: 1})

	var attempts int32
	done := make(chan struct{})
	err := s.Submit(context.Background(), Task{
		Name: "fatal",
		Opt:  TaskOptions{RetryMax: 5, RetryBase: time.Millisecond},
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&attempts, 1)
			close(done)
			return NoRetry(errors.New("bad input"))
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-done
	// Give the worker a moment to finish bookkeeping, then check no
	// further attempts happened.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestOverlapSkip(t *testing.T) {
	s := startEngine(t, Config{Workers: 2})

	release := make(chan struct{})
	started := make(chan struct{})
	err := s.Submit(context.Background(), Task{
		Name: "sync.page",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	err = s.Submit(context.Background(), Task{
		Name: "sync.page",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run:  func(ctx context.Context) error { return nil },
	})
	if !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("overlapping submit should skip, got %v", err)
	}
	close(release)
}

func TestCircuitOpensAfterFailures(t *testing.T) {
	s := startEngine(t, Config{
		Workers:             1,
		CircuitTripFailures: 1,
		CircuitBaseDelay:    time.Minute,
	})

	task := Task{
		Name: "broken",
		Opt:  TaskOptions{RetryMax: -1},
		Run:  func(ctx context.Context) error { return errors.New("down") },
	}
	if err := s.Submit(context.Background(), task); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		err := s.Enqueue(task)
		if errors.Is(err, ErrCircuitOpen) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("circuit never opened, last err: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}

	snap := s.Snapshot()
	if snap.CircuitOpen == 0 {
		t.Fatalf("snapshot should report an open circuit: %+v", snap)
	}
}

func TestSnapshotHistory(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, HistorySize: 10})

	done := make(chan struct{})
	_ = s.Submit(context.Background(), Task{
		Name: "h1",
		Run: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
	<-done

	deadline := time.After(5 * time.Second)
	for {
		snap := s.Snapshot()
		if len(snap.History) > 0 && snap.History[0].Name == "h1" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("history never recorded: %+v", s.Snapshot())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBackoffDelayHonorsHint(t *testing.T) {
	opt := TaskOptions{}.withDefaults(Config{RetryMax: 3})

	// Hint wins over exponential backoff; nil rng skips jitter.
	d := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("rate limited"), 2*time.Second), nil)
	if d != 2*time.Second {
		t.Fatalf("hinted delay = %v, want 2s", d)
	}

	// Hints are capped at the retry max delay.
	d = backoffDelayWithHint(opt, 1, RetryAfter(errors.New("rate limited"), time.Hour), nil)
	if d != opt.RetryMaxDelay {
		t.Fatalf("hinted delay = %v, want cap %v", d, opt.RetryMaxDelay)
	}

	// Plain exponential: 500ms base doubled twice by the third retry.
	d = backoffDelay(opt, 3, nil)
	if d != 2*time.Second {
		t.Fatalf("backoff(3) = %v, want 2s", d)
	}
}
