package config

import (
	"fmt"
	"time"
)

// Operational defaults. Applied after parse so downstream code can rely on
// populated values.
const (
	DefaultGraphAPIVersion = "v18.0"
	DefaultGraphWorkers    = 10
	DefaultCallsPerMinute  = 600
	DefaultMinCallSpacing  = 100 * time.Millisecond
	DefaultFirstRunDays    = 7
	DefaultIncrementalDays = 2
	DefaultPageSize        = 100
	DefaultRequestTimeout  = 30 * time.Second
	DefaultTimezone        = "Asia/Manila"
	DefaultWorksheet       = "Schedule"
	DefaultSheetDaysAhead  = 7
	DefaultAggregateDays   = 7
	DefaultDailyAt         = "07:00"
	DefaultDedupWindow     = 15 * time.Minute
)

func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "chat_analytics.db"
	}

	g := &cfg.Graph
	if g.APIVersion == "" {
		g.APIVersion = DefaultGraphAPIVersion
	}
	if g.Workers <= 0 {
		g.Workers = DefaultGraphWorkers
	}
	if g.CallsPerMinute <= 0 {
		g.CallsPerMinute = DefaultCallsPerMinute
	}
	if g.FirstRunDays <= 0 {
		g.FirstRunDays = DefaultFirstRunDays
	}
	if g.IncrementalDays <= 0 {
		g.IncrementalDays = DefaultIncrementalDays
	}
	if g.PageSize <= 0 {
		g.PageSize = DefaultPageSize
	}

	if cfg.Sheet.Worksheet == "" {
		cfg.Sheet.Worksheet = DefaultWorksheet
	}
	if cfg.Sheet.DaysAhead <= 0 {
		cfg.Sheet.DaysAhead = DefaultSheetDaysAhead
	}

	if cfg.Aggregate.Timezone == "" {
		cfg.Aggregate.Timezone = DefaultTimezone
	}
	if cfg.Aggregate.DaysBack <= 0 {
		cfg.Aggregate.DaysBack = DefaultAggregateDays
	}

	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = cfg.Aggregate.Timezone
	}
	if cfg.Scheduler.DailyAt == "" {
		cfg.Scheduler.DailyAt = DefaultDailyAt
	}

	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = g.Workers
	}
	if cfg.Engine.QueueSize <= 0 {
		cfg.Engine.QueueSize = 256
	}
	if cfg.Engine.HistorySize <= 0 {
		cfg.Engine.HistorySize = 200
	}
	if cfg.Engine.RetryMax <= 0 {
		cfg.Engine.RetryMax = 3
	}

	if cfg.Notifier.RatePerSec <= 0 {
		cfg.Notifier.RatePerSec = 1
	}
	if cfg.Notifier.QueueSize <= 0 {
		cfg.Notifier.QueueSize = 64
	}

	if cfg.Publish.Dir == "" {
		cfg.Publish.Dir = "."
	}
	if cfg.Publish.Remote == "" {
		cfg.Publish.Remote = "origin"
	}
}

// Validate rejects configs the process cannot run with. Called on initial
// load and before hot-reload commits.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if _, err := time.LoadLocation(cfg.Aggregate.Timezone); err != nil {
		return fmt.Errorf("aggregate.timezone: %w", err)
	}
	if cfg.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if cfg.Aggregate.SpielsStartDate != "" {
		if _, err := time.Parse("2006-01-02", cfg.Aggregate.SpielsStartDate); err != nil {
			return fmt.Errorf("aggregate.spiels_start_date: %w", err)
		}
	}
	for _, field := range []struct{ path, raw string }{
		{"database.busy_timeout", cfg.Database.BusyTimeout},
		{"graph.min_call_spacing", cfg.Graph.MinCallSpacing},
		{"graph.request_timeout", cfg.Graph.RequestTimeout},
		{"scheduler.incremental_every", cfg.Scheduler.IncrementalEvery},
		{"engine.default_timeout", cfg.Engine.DefaultTimeout},
		{"engine.max_queue_delay", cfg.Engine.MaxQueueDelay},
		{"notifier.dedup_window", cfg.Notifier.DedupWindow},
		{"alerts.response_time_critical", cfg.Alerts.ResponseTimeCritical},
		{"alerts.response_time_warning", cfg.Alerts.ResponseTimeWarning},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	if cfg.Notifier.Enabled {
		if cfg.Notifier.Token == "" {
			return fmt.Errorf("notifier.token is required when notifier is enabled")
		}
		if cfg.Notifier.ChatID == 0 {
			return fmt.Errorf("notifier.chat_id is required when notifier is enabled")
		}
	}
	return nil
}
