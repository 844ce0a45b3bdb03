package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config controls the worker pool and its failure handling.
type Config struct {
	Enabled        bool
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	// MaxQueueDelay drops tasks that sat in the queue too long before a
	// worker picked them up. Zero disables the check.
	MaxQueueDelay time.Duration
	HistorySize   int
	RetryMax      int

	// Circuit breaker (consecutive failures per task name).
	// CircuitTripFailures < 0 disables it.
	CircuitTripFailures int
	CircuitBaseDelay    time.Duration
	CircuitMaxDelay     time.Duration
	CircuitResetAfter   time.Duration
}

// OverlapPolicy decides what happens when a task with the same
// concurrency key is already running or queued.
type OverlapPolicy int

const (
	// OverlapAllow runs every submission independently.
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning drops the submission when a previous run with
	// the same key has not finished yet.
	OverlapSkipIfRunning
)

// TaskOptions tunes retry and overlap behavior per task.
type TaskOptions struct {
	Overlap  OverlapPolicy
	RetryMax int

	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64

	// ConcurrencyLimit caps simultaneous runs sharing the same
	// concurrency key. Zero means no group limit.
	ConcurrencyLimit int

	// Per-task circuit override; <0 disables the breaker for this task.
	CircuitTripFailures int
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	return o
}

// RunState tracks whether a run with a given key is in flight (running or
// still queued). Used for overlap skipping.
type RunState struct {
	busy int32
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	return atomic.CompareAndSwapInt32(&s.busy, 0, 1)
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	atomic.StoreInt32(&s.busy, 0)
}

// Task is a unit of work submitted to the engine.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions

	// ConcurrencyKey groups tasks for overlap skipping and group limits.
	// Empty means Name.
	ConcurrencyKey string

	// State overrides the engine-managed RunState (tests mostly).
	State *RunState
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is the Data payload of task.* bus events.
type TaskEvent struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Error      string
}

// Snapshot is a point-in-time operational view of the engine.
type Snapshot struct {
	Enabled          bool
	Workers          int
	QueueLen         int
	QueueCap         int
	InFlight         int
	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64
	DefaultTimeout   time.Duration
	MaxQueueDelay    time.Duration
	RetryMax         int
	CircuitTotal     int
	CircuitOpen      int
	History          []HistoryItem
}
