package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoPanicIsRecovered(t *testing.T) {
	sup := New(context.Background())
	sup.Go("boom", func(ctx context.Context) error {
		panic("kaput")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestCancelOnError(t *testing.T) {
	sup := New(context.Background(), WithCancelOnError(true))
	sup.Go("fail", func(ctx context.Context) error {
		return errors.New("nope")
	})

	select {
	case <-sup.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected context cancellation on first error")
	}
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	sup := New(context.Background())
	var runs atomic.Int32
	sup.GoRestart("once", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected exactly 1 run, got %d", got)
	}
}

func TestGoRestartRetriesOnError(t *testing.T) {
	sup := New(context.Background())
	var runs atomic.Int32
	sup.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = sup.Wait(ctx)
	if got := runs.Load(); got < 3 {
		t.Fatalf("expected at least 3 runs, got %d", got)
	}
}
