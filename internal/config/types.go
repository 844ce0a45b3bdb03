package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
	Graph    GraphConfig    `json:"graph"`
	Sheet    SheetConfig    `json:"sheet"`

	Aggregate AggregateConfig `json:"aggregate,omitempty"`
	Alerts    AlertsConfig    `json:"alerts,omitempty"`

	// Scheduler controls trigger behavior for daemon mode.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Engine controls execution settings for sync tasks.
	Engine EngineConfig `json:"engine,omitempty"`

	Notifier NotifierConfig `json:"notifier,omitempty"`
	Publish  PublishConfig  `json:"publish,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards warn+ log lines to the notifier channel.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// GraphConfig configures the Facebook Graph API sync.
//
// All durations are Go duration strings (e.g. "100ms", "10s").
type GraphConfig struct {
	APIVersion string `json:"api_version,omitempty"` // default "v18.0"
	BaseURL    string `json:"base_url,omitempty"`    // override for testing

	// TokensFile holds page access tokens (JSON: name -> {page_name, token}).
	TokensFile string `json:"tokens_file"`

	// CorePages restricts syncing to these page names (case-insensitive
	// substring match, as the upstream reporting requires).
	CorePages []string `json:"core_pages"`

	// PageAliases maps alternate page spellings to their token entry.
	PageAliases map[string]string `json:"page_aliases,omitempty"`

	Workers         int    `json:"workers,omitempty"`           // default 10
	CallsPerMinute  int    `json:"calls_per_minute,omitempty"`  // default 600
	MinCallSpacing  string `json:"min_call_spacing,omitempty"`  // default "100ms"
	FirstRunDays    int    `json:"first_run_days,omitempty"`    // default 7
	IncrementalDays int    `json:"incremental_days,omitempty"`  // default 2
	PageSize        int    `json:"page_size,omitempty"`         // default 100
	RequestTimeout  string `json:"request_timeout,omitempty"`   // default "30s"
}

type SheetConfig struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	Worksheet     string `json:"worksheet,omitempty"` // default "Schedule"

	// CredentialsFile is a Google service-account JSON file. If empty, the
	// GOOGLE_CREDENTIALS_JSON environment variable is used instead.
	CredentialsFile string `json:"credentials_file,omitempty"`

	DaysAhead int `json:"days_ahead,omitempty"` // default 7
}

type AggregateConfig struct {
	// Timezone is the IANA zone used for date and shift attribution.
	Timezone string `json:"timezone,omitempty"` // default "Asia/Manila"

	// SpielsStartDate is the first date (YYYY-MM-DD) spiels are counted.
	SpielsStartDate string `json:"spiels_start_date,omitempty"`

	DaysBack int `json:"days_back,omitempty"` // default 7
}

// AlertsConfig holds reporting thresholds. Zero values fall back to the
// operational defaults in the alerts package.
type AlertsConfig struct {
	ResponseRateCritical float64 `json:"response_rate_critical,omitempty"` // percent
	ResponseRateWarning  float64 `json:"response_rate_warning,omitempty"`
	ResponseTimeCritical string  `json:"response_time_critical,omitempty"` // duration
	ResponseTimeWarning  string  `json:"response_time_warning,omitempty"`
	VolumeCriticalDrop   float64 `json:"volume_critical_drop,omitempty"` // percent, negative
	VolumeWarningDrop    float64 `json:"volume_warning_drop,omitempty"`
	VolumeWarningSpike   float64 `json:"volume_warning_spike,omitempty"`
	AttendanceCritical   float64 `json:"attendance_critical,omitempty"`
	AttendanceWarning    float64 `json:"attendance_warning,omitempty"`
}

// SchedulerConfig controls the daemon's trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone for cron triggers (IANA, e.g. "Asia/Manila").
	Timezone string `json:"timezone,omitempty"`

	// DailyAt runs the full daily pipeline at HH:MM.
	DailyAt string `json:"daily_at,omitempty"` // default "07:00"

	// IncrementalEvery additionally runs a message sync on an interval.
	// Empty disables interval syncing.
	IncrementalEvery string `json:"incremental_every,omitempty"`
}

// EngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type EngineConfig struct {
	Workers   int `json:"workers,omitempty"`    // default graph.workers
	QueueSize int `json:"queue_size,omitempty"` // default 256

	// DefaultTimeout applies to tasks without their own timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks queued longer than this. "0s" disables.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"` // default 200
	RetryMax    int `json:"retry_max,omitempty"`    // default 3
}

// NotifierConfig controls the async alert delivery pipeline.
type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token,omitempty"` // supports ${ENV} expansion
	ChatID      int64  `json:"chat_id,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"` // duration, default "15m"
}

// PublishConfig controls the git publish helper.
type PublishConfig struct {
	Dir    string `json:"dir,omitempty"`    // repo directory, default "."
	Remote string `json:"remote,omitempty"` // default "origin"
	Branch string `json:"branch,omitempty"` // empty = current branch
}
