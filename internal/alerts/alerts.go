// Package alerts evaluates daily stats against operational thresholds and
// builds the digest sent through the notifier.
package alerts

import (
	"fmt"
	"time"

	"chatsync/internal/config"
)

type Severity string

const (
	Critical Severity = "critical"
	Warning  Severity = "warning"
	Info     Severity = "info"
)

type Alert struct {
	Severity Severity
	Type     string
	Message  string
	Agent    string
	Context  string
	Date     string
	Value    float64
}

type Thresholds struct {
	ResponseRateCritical float64 // percent
	ResponseRateWarning  float64
	ResponseTimeCritical time.Duration
	ResponseTimeWarning  time.Duration
	VolumeCriticalDrop   float64 // percent, negative
	VolumeWarningDrop    float64
	VolumeWarningSpike   float64
	AttendanceCritical   float64
	AttendanceWarning    float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ResponseRateCritical: 30,
		ResponseRateWarning:  50,
		ResponseTimeCritical: time.Hour,
		ResponseTimeWarning:  30 * time.Minute,
		VolumeCriticalDrop:   -50,
		VolumeWarningDrop:    -25,
		VolumeWarningSpike:   100,
		AttendanceCritical:   70,
		AttendanceWarning:    85,
	}
}

// FromConfig overlays configured thresholds on the defaults.
func FromConfig(cfg config.AlertsConfig) (Thresholds, error) {
	t := DefaultThresholds()
	if cfg.ResponseRateCritical > 0 {
		t.ResponseRateCritical = cfg.ResponseRateCritical
	}
	if cfg.ResponseRateWarning > 0 {
		t.ResponseRateWarning = cfg.ResponseRateWarning
	}
	if cfg.ResponseTimeCritical != "" {
		d, err := config.ParseDurationField("alerts.response_time_critical", cfg.ResponseTimeCritical)
		if err != nil {
			return t, err
		}
		t.ResponseTimeCritical = d
	}
	if cfg.ResponseTimeWarning != "" {
		d, err := config.ParseDurationField("alerts.response_time_warning", cfg.ResponseTimeWarning)
		if err != nil {
			return t, err
		}
		t.ResponseTimeWarning = d
	}
	if cfg.VolumeCriticalDrop != 0 {
		t.VolumeCriticalDrop = cfg.VolumeCriticalDrop
	}
	if cfg.VolumeWarningDrop != 0 {
		t.VolumeWarningDrop = cfg.VolumeWarningDrop
	}
	if cfg.VolumeWarningSpike != 0 {
		t.VolumeWarningSpike = cfg.VolumeWarningSpike
	}
	if cfg.AttendanceCritical > 0 {
		t.AttendanceCritical = cfg.AttendanceCritical
	}
	if cfg.AttendanceWarning > 0 {
		t.AttendanceWarning = cfg.AttendanceWarning
	}
	return t, nil
}

// FormatRT renders seconds as a compact duration ("45s", "12m 30s",
// "1h 05m").
func FormatRT(seconds float64) string {
	s := int(seconds)
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %02dm", s/3600, (s%3600)/60)
	}
}

func (t Thresholds) CheckResponseRate(rate float64, agent, context string) *Alert {
	switch {
	case rate < t.ResponseRateCritical:
		return &Alert{Severity: Critical, Type: "response_rate", Agent: agent, Context: context, Value: rate,
			Message: fmt.Sprintf("Critical: Response rate at %.1f%%", rate)}
	case rate < t.ResponseRateWarning:
		return &Alert{Severity: Warning, Type: "response_rate", Agent: agent, Context: context, Value: rate,
			Message: fmt.Sprintf("Warning: Response rate at %.1f%%", rate)}
	}
	return nil
}

func (t Thresholds) CheckResponseTime(seconds float64, agent, context string) *Alert {
	if seconds <= 0 {
		return nil
	}
	switch {
	case seconds > t.ResponseTimeCritical.Seconds():
		return &Alert{Severity: Critical, Type: "response_time", Agent: agent, Context: context, Value: seconds,
			Message: fmt.Sprintf("Critical: Avg response time is %s", FormatRT(seconds))}
	case seconds > t.ResponseTimeWarning.Seconds():
		return &Alert{Severity: Warning, Type: "response_time", Agent: agent, Context: context, Value: seconds,
			Message: fmt.Sprintf("Warning: Avg response time is %s", FormatRT(seconds))}
	}
	return nil
}

func (t Thresholds) CheckVolumeChange(current, previous float64, metric string) *Alert {
	if previous == 0 {
		return nil
	}
	change := (current - previous) / previous * 100
	switch {
	case change <= t.VolumeCriticalDrop:
		return &Alert{Severity: Critical, Type: "volume_change", Value: change,
			Message: fmt.Sprintf("Critical: %s dropped %.1f%% vs previous period", metric, -change)}
	case change <= t.VolumeWarningDrop:
		return &Alert{Severity: Warning, Type: "volume_change", Value: change,
			Message: fmt.Sprintf("Warning: %s dropped %.1f%% vs previous period", metric, -change)}
	case change >= t.VolumeWarningSpike:
		return &Alert{Severity: Info, Type: "volume_change", Value: change,
			Message: fmt.Sprintf("Notice: %s increased %.1f%% vs previous period", metric, change)}
	}
	return nil
}

func (t Thresholds) CheckAttendance(rate float64, agent string) *Alert {
	switch {
	case rate < t.AttendanceCritical:
		return &Alert{Severity: Critical, Type: "attendance", Agent: agent, Value: rate,
			Message: fmt.Sprintf("Critical: Attendance at %.1f%%", rate)}
	case rate < t.AttendanceWarning:
		return &Alert{Severity: Warning, Type: "attendance", Agent: agent, Value: rate,
			Message: fmt.Sprintf("Warning: Attendance at %.1f%%", rate)}
	}
	return nil
}

// Counts tallies alerts by severity.
func Counts(alerts []Alert) map[Severity]int {
	out := map[Severity]int{Critical: 0, Warning: 0, Info: 0}
	for _, a := range alerts {
		out[a.Severity]++
	}
	return out
}
