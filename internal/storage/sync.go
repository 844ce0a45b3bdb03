package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) UpsertPage(ctx context.Context, p Page) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pages(page_id, page_name) VALUES(?,?)
		 ON CONFLICT(page_id) DO UPDATE SET page_name=excluded.page_name`,
		p.ID, p.Name,
	)
	return err
}

func (s *Store) Pages(ctx context.Context) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT page_id, page_name FROM pages ORDER BY page_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertConversation(ctx context.Context, c Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(conversation_id, page_id, participant_id, participant_name, updated_time, message_count)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
		   participant_name=excluded.participant_name,
		   updated_time=excluded.updated_time,
		   message_count=excluded.message_count`,
		c.ID, c.PageID, nullStr(c.ParticipantID), nullStr(c.ParticipantName),
		fmtTime(c.UpdatedTime), c.MessageCount,
	)
	return err
}

// ConversationUpdatedTimes returns updated_time per conversation for one
// page. Drives the skip-unchanged check during sync.
func (s *Store) ConversationUpdatedTimes(ctx context.Context, pageID string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, COALESCE(updated_time, '') FROM conversations WHERE page_id = ?`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var id, ut string
		if err := rows.Scan(&id, &ut); err != nil {
			return nil, err
		}
		out[id] = parseTime(ut)
	}
	return out, rows.Err()
}

// ConversationIDs returns every conversation id that has stored
// messages, including conversations without a metadata row. Used by the
// full response-time recalculation.
func (s *Store) ConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT conversation_id FROM messages`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertMessages writes a batch in one transaction. Existing rows keep
// their response_time_seconds; text, time and sender_name are refreshed.
func (s *Store) UpsertMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages(message_id, conversation_id, page_id, sender_id, sender_name, message_text, message_time, is_from_page)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(message_id) DO UPDATE SET
		   sender_name=excluded.sender_name,
		   message_text=excluded.message_text,
		   message_time=excluded.message_time`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx,
			m.MessageID, m.ConversationID, m.PageID,
			nullStr(m.SenderID), nullStr(m.SenderName), nullStr(m.Text),
			fmtTime(m.Time), boolToInt(m.FromPage),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MessageTiming is the minimal view needed for the response-time walk.
type MessageTiming struct {
	RowID    int64
	Time     time.Time
	FromPage bool
}

func (s *Store) ConversationTimings(ctx context.Context, conversationID string) ([]MessageTiming, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_time, is_from_page FROM messages
		 WHERE conversation_id = ? ORDER BY message_time, id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageTiming
	for rows.Next() {
		var (
			mt MessageTiming
			ts string
			fp int
		)
		if err := rows.Scan(&mt.RowID, &ts, &fp); err != nil {
			return nil, err
		}
		mt.Time = parseTime(ts)
		mt.FromPage = fp != 0
		out = append(out, mt)
	}
	return out, rows.Err()
}

// ResponseTimeUpdate assigns response_time_seconds to one message row.
type ResponseTimeUpdate struct {
	RowID   int64
	Seconds int64
}

func (s *Store) ApplyResponseTimes(ctx context.Context, updates []ResponseTimeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE messages SET response_time_seconds = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.Seconds, u.RowID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) UpsertComment(ctx context.Context, c Comment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments(comment_id, page_id, comment_time, reply_count) VALUES(?,?,?,?)
		 ON CONFLICT(comment_id) DO UPDATE SET reply_count=excluded.reply_count`,
		c.ID, c.PageID, fmtTime(c.Time), c.ReplyCount,
	)
	return err
}

func (s *Store) GetSyncState(ctx context.Context, pageID string) (SyncState, bool, error) {
	var (
		st SyncState
		ts string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT page_id, last_sync, conversations, messages FROM sync_state WHERE page_id = ?`,
		pageID).Scan(&st.PageID, &ts, &st.Conversations, &st.Messages)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncState{}, false, nil
	}
	if err != nil {
		return SyncState{}, false, err
	}
	st.LastSync = parseTime(ts)
	return st, true, nil
}

func (s *Store) PutSyncState(ctx context.Context, st SyncState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state(page_id, last_sync, conversations, messages) VALUES(?,?,?,?)
		 ON CONFLICT(page_id) DO UPDATE SET
		   last_sync=excluded.last_sync,
		   conversations=excluded.conversations,
		   messages=excluded.messages`,
		st.PageID, fmtTime(st.LastSync), st.Conversations, st.Messages,
	)
	return err
}

func (s *Store) RecordSyncRun(ctx context.Context, r SyncRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs(run_id, kind, started_at, pages_ok, pages_failed, conversations, messages, skipped, api_calls, took_ms, error)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.Kind, fmtTime(r.StartedAt), r.PagesOK, r.PagesFailed,
		r.Conversations, r.Messages, r.Skipped, r.APICalls, r.Took.Milliseconds(), nullStr(r.Error),
	)
	return err
}
