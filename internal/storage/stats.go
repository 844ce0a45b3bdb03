package storage

import (
	"context"
	"database/sql"
	"time"
)

// Activity is the minimal message view used by the daily rollup.
type Activity struct {
	PageID          string
	Time            time.Time
	FromPage        bool
	ResponseSeconds *int64
}

func (s *Store) MessagesBetween(ctx context.Context, from, to time.Time) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_id, message_time, is_from_page, response_time_seconds
		 FROM messages WHERE message_time >= ? AND message_time < ?`,
		fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var (
			a  Activity
			ts string
			fp int
			rt sql.NullInt64
		)
		if err := rows.Scan(&a.PageID, &ts, &fp, &rt); err != nil {
			return nil, err
		}
		a.Time = parseTime(ts)
		a.FromPage = fp != 0
		if rt.Valid {
			v := rt.Int64
			a.ResponseSeconds = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CommentsBetween(ctx context.Context, from, to time.Time) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT comment_id, page_id, comment_time, reply_count
		 FROM comments WHERE comment_time >= ? AND comment_time < ?`,
		fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var (
			c  Comment
			ts string
		)
		if err := rows.Scan(&c.ID, &c.PageID, &ts, &c.ReplyCount); err != nil {
			return nil, err
		}
		c.Time = parseTime(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// OutgoingText is one page-sent message with text, used for spiel counting.
type OutgoingText struct {
	PageID string
	Time   time.Time
	Text   string
}

func (s *Store) OutgoingMessagesBetween(ctx context.Context, from, to time.Time) ([]OutgoingText, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_id, message_time, message_text FROM messages
		 WHERE is_from_page = 1 AND message_text IS NOT NULL AND message_text != ''
		   AND message_time >= ? AND message_time < ?`,
		fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutgoingText
	for rows.Next() {
		var (
			o  OutgoingText
			ts string
		)
		if err := rows.Scan(&o.PageID, &ts, &o.Text); err != nil {
			return nil, err
		}
		o.Time = parseTime(ts)
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertDailyStats writes one rollup row. Inserted rows get roster defaults
// (Morning/present/8h) when the schedule fields are empty; existing rows
// keep their roster fields and only activity and spiel counts change.
func (s *Store) UpsertDailyStats(ctx context.Context, st DailyStats) error {
	shift := st.Shift
	if shift == "" {
		shift = "Morning"
	}
	status := st.ScheduleStatus
	if status == "" {
		status = "present"
	}
	duty := st.DutyHours
	if duty == 0 {
		duty = 8.0
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_daily_stats(agent_id, date, shift, schedule_status, duty_hours,
		   messages_received, messages_sent, avg_response_time_seconds, comment_replies,
		   opening_spiels_count, closing_spiels_count)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(agent_id, date) DO UPDATE SET
		   messages_received=excluded.messages_received,
		   messages_sent=excluded.messages_sent,
		   avg_response_time_seconds=excluded.avg_response_time_seconds,
		   comment_replies=excluded.comment_replies,
		   opening_spiels_count=excluded.opening_spiels_count,
		   closing_spiels_count=excluded.closing_spiels_count`,
		st.AgentID, st.Date, shift, status, duty,
		st.Received, st.Sent, st.AvgResponseSecs, st.CommentReplies,
		st.OpeningSpiels, st.ClosingSpiels,
	)
	return err
}

// UpdateSpielCounts sets spiel counts for an existing row only. Agents
// without a stats row for the date are left alone.
func (s *Store) UpdateSpielCounts(ctx context.Context, agentID int64, date string, opening, closing int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_daily_stats SET opening_spiels_count = ?, closing_spiels_count = ?
		 WHERE agent_id = ? AND date = ?`,
		opening, closing, agentID, date,
	)
	return err
}

// ZeroActivity clears activity fields for an existing row, used when the
// roster marks the agent absent or off.
func (s *Store) ZeroActivity(ctx context.Context, agentID int64, date string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_daily_stats
		 SET messages_received = 0, messages_sent = 0,
		     avg_response_time_seconds = 0, comment_replies = 0
		 WHERE agent_id = ? AND date = ?`,
		agentID, date,
	)
	return err
}

func (s *Store) StatsBetween(ctx context.Context, startDate, endDate string) ([]DailyStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.agent_id, a.agent_name, d.date,
		        COALESCE(d.shift, ''), COALESCE(d.schedule_status, ''), COALESCE(d.duty_hours, 0),
		        d.messages_received, d.messages_sent, COALESCE(d.avg_response_time_seconds, 0),
		        d.comment_replies, d.opening_spiels_count, d.closing_spiels_count
		 FROM agent_daily_stats d
		 JOIN agents a ON a.id = d.agent_id
		 WHERE d.date >= ? AND d.date <= ?
		 ORDER BY d.date, a.agent_name`,
		startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var st DailyStats
		if err := rows.Scan(&st.AgentID, &st.AgentName, &st.Date,
			&st.Shift, &st.ScheduleStatus, &st.DutyHours,
			&st.Received, &st.Sent, &st.AvgResponseSecs,
			&st.CommentReplies, &st.OpeningSpiels, &st.ClosingSpiels,
		); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ScheduleFor returns roster fields for (agent, date) when a row exists.
func (s *Store) ScheduleFor(ctx context.Context, agentID int64, date string) (shift, status string, duty float64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(shift, ''), COALESCE(schedule_status, ''), COALESCE(duty_hours, 0)
		 FROM agent_daily_stats WHERE agent_id = ? AND date = ?`,
		agentID, date).Scan(&shift, &status, &duty)
	if err == sql.ErrNoRows {
		return "", "", 0, false, nil
	}
	if err != nil {
		return "", "", 0, false, err
	}
	return shift, status, duty, true, nil
}
