package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aixgo-dev/todo-assistant/pkg/session"
)

const sessionColumns = "id, user_id, title, created_at, updated_at, message_count"

// SessionBackend implements session.StorageBackend. The database is owned
// by the DB it came from; Close leaves it open.
type SessionBackend struct {
	db *sql.DB
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		s                session.Session
		created, updated int64
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.Title, &created, &updated, &s.MessageCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	s.CreatedAt = fromMicros(created)
	s.UpdatedAt = fromMicros(updated)
	return &s, nil
}

// SaveSession creates or replaces session metadata.
func (b *SessionBackend) SaveSession(ctx context.Context, sess *session.Session) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			title = excluded.title,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			message_count = excluded.message_count`,
		sess.ID, sess.UserID, sess.Title, micros(sess.CreatedAt), micros(sess.UpdatedAt), sess.MessageCount)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession retrieves session metadata by ID.
func (b *SessionBackend) LoadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := scanSession(b.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", sessionID))
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, err
}

// DeleteSession removes a session and its messages.
func (b *SessionBackend) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// ListSessions returns a user's sessions ordered by UpdatedAt descending.
func (b *SessionBackend) ListSessions(ctx context.Context, opts session.ListOptions) ([]*session.Session, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id = ? ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?",
		opts.UserID, noLimit(opts.Limit), max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*session.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendMessage stores msg and advances the session in one transaction.
// The session row is bumped first with an UPDATE ... RETURNING, which takes
// the write lock, so the new message_count doubles as a unique seq. The
// timestamp and title rules match session.Session.Advance.
func (b *SessionBackend) AppendMessage(ctx context.Context, sessionID string, msg *session.Message) error {
	calls, err := encodeJSON(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	results, err := encodeJSON(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("encode tool results: %w", err)
	}
	title := ""
	if msg.Role == session.RoleUser {
		title = session.DeriveTitle(msg.Content)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var updated int64
	var seq int
	proposed := micros(msg.CreatedAt)
	err = tx.QueryRowContext(ctx, `
		UPDATE sessions SET
			title = CASE WHEN title = '' THEN ? ELSE title END,
			updated_at = CASE WHEN message_count > 0 AND updated_at >= ? THEN updated_at + 1 ELSE ? END,
			message_count = message_count + 1
		WHERE id = ?
		RETURNING updated_at, message_count`,
		title, proposed, proposed, sessionID).Scan(&updated, &seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.ErrSessionNotFound
		}
		return fmt.Errorf("update session: %w", err)
	}
	msg.CreatedAt = fromMicros(updated)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, seq, role, content, tool_calls, tool_results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, seq, string(msg.Role), msg.Content, calls, results, updated); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

// LoadMessages returns the newest limit messages in append order.
func (b *SessionBackend) LoadMessages(ctx context.Context, sessionID string, limit int) ([]*session.Message, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_calls, tool_results, created_at FROM (
			SELECT * FROM messages WHERE session_id = ? ORDER BY seq DESC, created_at DESC LIMIT ?
		) ORDER BY seq ASC, created_at ASC`,
		sessionID, noLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	out := make([]*session.Message, 0)
	for rows.Next() {
		var (
			m              session.Message
			role           string
			calls, results sql.NullString
			created        int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &calls, &results, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = session.Role(role)
		m.CreatedAt = fromMicros(created)
		if calls.Valid {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of %s: %w", m.ID, err)
			}
		}
		if results.Valid {
			if err := json.Unmarshal([]byte(results.String), &m.ToolResults); err != nil {
				return nil, fmt.Errorf("decode tool results of %s: %w", m.ID, err)
			}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteIdleSessions removes sessions not updated since before.
func (b *SessionBackend) DeleteIdleSessions(ctx context.Context, before time.Time) (int, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := micros(before)
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM messages WHERE session_id IN (SELECT id FROM sessions WHERE updated_at < ?)", cutoff); err != nil {
		return 0, fmt.Errorf("delete idle messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(n), nil
}

// Ping checks the database connection.
func (b *SessionBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close is a no-op; close the owning DB instead.
func (b *SessionBackend) Close() error {
	return nil
}

func encodeJSON[T any](v []T) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

var (
	_ session.StorageBackend = (*SessionBackend)(nil)
	_ session.Pinger         = (*SessionBackend)(nil)
)
