package storage

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) Agents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_name, is_active FROM agents ORDER BY agent_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var (
			a      Agent
			active int
		)
		if err := rows.Scan(&a.ID, &a.Name, &active); err != nil {
			return nil, err
		}
		a.Active = active != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// EnsureAgent returns the agent id for name, creating the row if needed.
func (s *Store) EnsureAgent(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM agents WHERE agent_name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO agents(agent_name) VALUES(?)`, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) AssignAgentPage(ctx context.Context, a Assignment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO agent_page_assignments(agent_id, page_id, shift) VALUES(?,?,?)`,
		a.AgentID, a.PageID, a.Shift,
	)
	return err
}

func (s *Store) Assignments(ctx context.Context) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, page_id, shift FROM agent_page_assignments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.AgentID, &a.PageID, &a.Shift); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ScheduleUpdate is one (agent, date) schedule cell from the roster sheet.
type ScheduleUpdate struct {
	AgentID   int64
	Date      string // YYYY-MM-DD
	Status    string
	Shift     string
	DutyHours float64
}

// ApplyScheduleUpdates writes roster data into agent_daily_stats: existing
// rows get shift/status/duty updated, missing rows are inserted with zeroed
// activity.
func (s *Store) ApplyScheduleUpdates(ctx context.Context, updates []ScheduleUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO agent_daily_stats(agent_id, date, shift, schedule_status, duty_hours)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(agent_id, date) DO UPDATE SET
		   shift=excluded.shift,
		   schedule_status=excluded.schedule_status,
		   duty_hours=excluded.duty_hours`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.AgentID, u.Date, u.Shift, u.Status, u.DutyHours); err != nil {
			return err
		}
	}
	return tx.Commit()
}
