package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatsync/internal/storage"
)

const dateLayout = "2006-01-02"

// Scan evaluates agent daily stats over [startDate, endDate] and returns
// every triggered alert: absences, low response rates (more than 10
// received and under 50%), slow responses, per-agent attendance, and the
// received-volume change versus the previous period of equal length.
func Scan(ctx context.Context, store *storage.Store, t Thresholds, startDate, endDate string) ([]Alert, error) {
	rows, err := store.StatsBetween(ctx, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}

	var alerts []Alert
	type attendance struct{ scheduled, present int }
	byAgent := map[string]*attendance{}
	var receivedTotal int

	for _, r := range rows {
		where := r.Date + " - " + r.Shift
		receivedTotal += r.Received

		att := byAgent[r.AgentName]
		if att == nil {
			att = &attendance{}
			byAgent[r.AgentName] = att
		}
		if r.ScheduleStatus == "present" || r.ScheduleStatus == "absent" {
			att.scheduled++
			if r.ScheduleStatus == "present" {
				att.present++
			}
		}

		if r.ScheduleStatus == "absent" {
			alerts = append(alerts, Alert{
				Severity: Warning, Type: "absence", Message: "Agent absent",
				Agent: r.AgentName, Context: where, Date: r.Date,
			})
		}

		if r.Received > 10 {
			rate := 100 * float64(r.Sent) / float64(r.Received)
			if rate < 50 {
				if a := t.CheckResponseRate(rate, r.AgentName, where); a != nil {
					a.Date = r.Date
					alerts = append(alerts, *a)
				}
			}
		}

		if r.AvgResponseSecs > 1800 {
			if a := t.CheckResponseTime(r.AvgResponseSecs, r.AgentName, where); a != nil {
				a.Date = r.Date
				alerts = append(alerts, *a)
			}
		}
	}

	for agent, att := range byAgent {
		if att.scheduled == 0 {
			continue
		}
		rate := 100 * float64(att.present) / float64(att.scheduled)
		if a := t.CheckAttendance(rate, agent); a != nil {
			alerts = append(alerts, *a)
		}
	}

	// Volume versus the previous period of the same length.
	if prevStart, prevEnd, ok := previousPeriod(startDate, endDate); ok {
		prevRows, err := store.StatsBetween(ctx, prevStart, prevEnd)
		if err != nil {
			return nil, fmt.Errorf("load previous stats: %w", err)
		}
		var prevTotal int
		for _, r := range prevRows {
			prevTotal += r.Received
		}
		if a := t.CheckVolumeChange(float64(receivedTotal), float64(prevTotal), "Messages"); a != nil {
			alerts = append(alerts, *a)
		}
	}

	return alerts, nil
}

func previousPeriod(startDate, endDate string) (string, string, bool) {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return "", "", false
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return "", "", false
	}
	days := int(end.Sub(start).Hours()/24) + 1
	return start.AddDate(0, 0, -days).Format(dateLayout),
		start.AddDate(0, 0, -1).Format(dateLayout), true
}

// Digest renders alerts as a plain-text summary, critical first, capped
// per severity. Empty string means nothing to report.
func Digest(alerts []Alert, startDate, endDate string) string {
	if len(alerts) == 0 {
		return ""
	}
	counts := Counts(alerts)

	var b strings.Builder
	fmt.Fprintf(&b, "Chat analytics alerts %s to %s\n", startDate, endDate)
	fmt.Fprintf(&b, "%d critical, %d warnings, %d notices\n",
		counts[Critical], counts[Warning], counts[Info])

	const maxPerSeverity = 10
	for _, sev := range []Severity{Critical, Warning, Info} {
		n := 0
		for _, a := range alerts {
			if a.Severity != sev {
				continue
			}
			if n >= maxPerSeverity {
				fmt.Fprintf(&b, "  ... more %s alerts elided\n", sev)
				break
			}
			line := a.Message
			if a.Agent != "" {
				line = a.Agent + ": " + line
			}
			if a.Context != "" {
				line += " (" + a.Context + ")"
			}
			fmt.Fprintf(&b, "- %s\n", line)
			n++
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
