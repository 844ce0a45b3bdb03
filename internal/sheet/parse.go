// Package sheet syncs the agent roster from a Google Sheets pivot table
// into daily stats rows.
//
// Expected layout: a header row containing SMA, PAGE, RD, TIME, DUTY
// followed by one date column per day; agent rows below, where a blank SMA
// cell continues the previous agent.
package sheet

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// statusMapping normalizes roster status cells.
var statusMapping = map[string]string{
	"present":  "present",
	"p":        "present",
	"on":       "present",
	"on duty":  "present",
	"absent":   "absent",
	"a":        "absent",
	"off":      "off",
	"leave":    "leave",
	"vl":       "leave",
	"sl":       "leave",
	"rd":       "off",
	"rest day": "off",
	"":         "off",
}

// shiftMapping is ordered: earlier entries win on substring match ("mid"
// must beat "night" for "midnight").
var shiftMapping = []struct{ key, value string }{
	{"morning", "Morning"},
	{"am", "Morning"},
	{"mid", "Mid"},
	{"pm", "Mid"},
	{"graveyard", "GY"},
	{"gy", "GY"},
	{"night", "GY"},
}

func NormalizeStatus(s string) string {
	if v, ok := statusMapping[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v
	}
	return "off"
}

func NormalizeShift(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return "Morning"
	}
	for _, m := range shiftMapping {
		if strings.Contains(lower, m.key) {
			return m.value
		}
	}
	return "Morning"
}

var dutyRangeRe = regexp.MustCompile(`^(\d{1,2})(?:AM|PM)?[-–](\d{1,2})(?:AM|PM)?`)

// ParseDutyHours reads a duty cell like "06AM-15PM", "13-22" or a bare
// number of hours. Unparseable input defaults to 8.
func ParseDutyHours(s string) float64 {
	raw := strings.ToUpper(strings.TrimSpace(s))
	if raw == "" {
		return 8.0
	}
	if m := dutyRangeRe.FindStringSubmatch(raw); m != nil {
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		if strings.Contains(raw, "PM") && start < 12 {
			start += 12
		}
		if end < start {
			end += 12
		}
		if hours := end - start; hours > 0 {
			return float64(hours)
		}
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	return 8.0
}

// headerDateLayouts accepts the formats seen in roster sheets. Day-first
// comes before month-first, matching the roster convention.
var headerDateLayouts = []string{
	"2/1/2006",
	"1/2/2006",
	"2006-01-02",
	"2006-1-2",
	"2-1-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// ParseDateHeader parses a date column header; returns false when the cell
// is not a date.
func ParseDateHeader(s string) (time.Time, bool) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range headerDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Pivot is the located structure of the roster worksheet.
type Pivot struct {
	SMACol   int
	TimeCol  int // -1 when absent
	DutyCol  int // -1 when absent
	DateCols map[int]string
	DataRows [][]string
}

// ParsePivot locates the header row (an SMA cell within the first 5 rows)
// and the date columns after DUTY.
func ParsePivot(rows [][]string) (*Pivot, bool) {
	headerIdx := -1
	for i, row := range rows {
		if i >= 5 {
			break
		}
		for _, cell := range row {
			if strings.ToUpper(strings.TrimSpace(cell)) == "SMA" {
				headerIdx = i
				break
			}
		}
		if headerIdx >= 0 {
			break
		}
	}
	if headerIdx < 0 {
		return nil, false
	}

	p := &Pivot{SMACol: -1, TimeCol: -1, DutyCol: -1, DateCols: map[int]string{}}
	header := rows[headerIdx]
	for i, cell := range header {
		switch strings.ToUpper(strings.TrimSpace(cell)) {
		case "SMA":
			p.SMACol = i
		case "TIME":
			p.TimeCol = i
		case "DUTY":
			p.DutyCol = i
		default:
			if p.DutyCol >= 0 && i > p.DutyCol {
				if d, ok := ParseDateHeader(cell); ok {
					p.DateCols[i] = d.Format(dateLayout)
				}
			}
		}
	}
	if p.SMACol < 0 {
		return nil, false
	}
	p.DataRows = rows[headerIdx+1:]
	return p, true
}

// Update is one (agent, date) roster cell, dates formatted YYYY-MM-DD.
type Update struct {
	AgentID   int64
	AgentName string
	Date      string
	Shift     string
	Status    string
	DutyHours float64
}

// AgentResolver maps a roster name to an agent id.
type AgentResolver func(name string) (int64, bool)

// ResolveByMap builds a resolver over lowercased db names with a partial
// match fallback.
func ResolveByMap(byLower map[string]int64) AgentResolver {
	// Stable iteration for the partial pass.
	names := make([]string, 0, len(byLower))
	for n := range byLower {
		names = append(names, n)
	}
	sort.Strings(names)
	return func(name string) (int64, bool) {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" {
			return 0, false
		}
		if id, ok := byLower[lower]; ok {
			return id, true
		}
		for _, dbName := range names {
			if strings.Contains(dbName, lower) || strings.Contains(lower, dbName) {
				return byLower[dbName], true
			}
		}
		return 0, false
	}
}

// BuildUpdates walks the data rows, carrying the agent, shift and duty
// forward across continuation rows, and dedupes on (agent, date) keeping
// the last occurrence. syncDates restricts which date columns are taken.
// Unknown agent names are returned for warning once each.
func BuildUpdates(p *Pivot, resolve AgentResolver, syncDates map[string]bool) (updates []Update, unknown []string) {
	type key struct {
		agentID int64
		date    string
	}
	dedup := map[key]int{} // index into updates

	var (
		currentAgent string
		currentShift = "Morning"
		currentDuty  = 8.0
		warned       = map[string]bool{}
	)

	cols := make([]int, 0, len(p.DateCols))
	for c := range p.DateCols {
		cols = append(cols, c)
	}
	sort.Ints(cols)

	for _, row := range p.DataRows {
		name := ""
		if p.SMACol < len(row) {
			name = strings.TrimSpace(row[p.SMACol])
		}
		if name != "" {
			currentAgent = name
			if p.TimeCol >= 0 && p.TimeCol < len(row) {
				currentShift = NormalizeShift(row[p.TimeCol])
			}
			if p.DutyCol >= 0 && p.DutyCol < len(row) {
				currentDuty = ParseDutyHours(row[p.DutyCol])
			}
		}
		if currentAgent == "" {
			continue
		}

		agentID, ok := resolve(currentAgent)
		if !ok {
			if name != "" && !warned[strings.ToLower(currentAgent)] {
				warned[strings.ToLower(currentAgent)] = true
				unknown = append(unknown, currentAgent)
			}
			continue
		}

		for _, col := range cols {
			date := p.DateCols[col]
			if !syncDates[date] {
				continue
			}
			if col >= len(row) || strings.TrimSpace(row[col]) == "" {
				continue
			}
			u := Update{
				AgentID:   agentID,
				AgentName: currentAgent,
				Date:      date,
				Shift:     currentShift,
				Status:    NormalizeStatus(row[col]),
				DutyHours: currentDuty,
			}
			k := key{agentID, date}
			if i, seen := dedup[k]; seen {
				updates[i] = u
			} else {
				dedup[k] = len(updates)
				updates = append(updates, u)
			}
		}
	}
	return updates, unknown
}

// SyncDates returns the date window [today-7, today+daysAhead], or just
// target when set.
func SyncDates(now time.Time, target string, daysAhead int) map[string]bool {
	out := map[string]bool{}
	if target != "" {
		out[target] = true
		return out
	}
	for i := -7; i <= daysAhead; i++ {
		out[now.AddDate(0, 0, i).Format(dateLayout)] = true
	}
	return out
}
