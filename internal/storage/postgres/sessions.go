package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aixgo-dev/todo-assistant/pkg/session"
)

// SessionBackend implements session.StorageBackend. Close leaves the
// shared connection pool open; close the owning DB instead.
type SessionBackend struct {
	db *gorm.DB
}

func toSessionRecord(s *session.Session) sessionRecord {
	return sessionRecord{
		ID:           s.ID,
		UserID:       s.UserID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: s.MessageCount,
	}
}

func (r *sessionRecord) toSession() *session.Session {
	return &session.Session{
		ID:           r.ID,
		UserID:       r.UserID,
		Title:        r.Title,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		MessageCount: r.MessageCount,
	}
}

// SaveSession creates or replaces session metadata.
func (b *SessionBackend) SaveSession(ctx context.Context, sess *session.Session) error {
	rec := toSessionRecord(sess)
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "title", "created_at", "updated_at", "message_count"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession retrieves session metadata by ID.
func (b *SessionBackend) LoadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	var rec sessionRecord
	err := b.db.WithContext(ctx).Where("id = ?", sessionID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return rec.toSession(), nil
}

// DeleteSession removes a session and its messages.
func (b *SessionBackend) DeleteSession(ctx context.Context, sessionID string) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&messageRecord{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Where("id = ?", sessionID).Delete(&sessionRecord{}).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// ListSessions returns a user's sessions ordered by UpdatedAt descending.
func (b *SessionBackend) ListSessions(ctx context.Context, opts session.ListOptions) ([]*session.Session, error) {
	q := b.db.WithContext(ctx).
		Where("user_id = ?", opts.UserID).
		Order("updated_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var records []sessionRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*session.Session, len(records))
	for i := range records {
		out[i] = records[i].toSession()
	}
	return out, nil
}

// AppendMessage stores msg and advances the session in one transaction.
// The session row is locked with SELECT ... FOR UPDATE so concurrent
// appends to one conversation serialize.
func (b *SessionBackend) AppendMessage(ctx context.Context, sessionID string, msg *session.Message) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur sessionRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", sessionID).Take(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}

		sess := cur.toSession()
		sess.Advance(msg)
		res := tx.Model(&sessionRecord{}).Where("id = ?", sessionID).Updates(map[string]any{
			"title":         sess.Title,
			"updated_at":    sess.UpdatedAt,
			"message_count": sess.MessageCount,
		})
		if res.Error != nil {
			return fmt.Errorf("update session: %w", res.Error)
		}

		rec := messageRecord{
			ID:        msg.ID,
			SessionID: sessionID,
			Seq:       sess.MessageCount,
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		}
		if len(msg.ToolCalls) > 0 {
			rec.ToolCalls = msg.ToolCalls
		}
		if len(msg.ToolResults) > 0 {
			rec.ToolResults = msg.ToolResults
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

// LoadMessages returns the newest limit messages in append order.
func (b *SessionBackend) LoadMessages(ctx context.Context, sessionID string, limit int) ([]*session.Message, error) {
	q := b.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC, created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var records []messageRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	out := make([]*session.Message, len(records))
	for i := range records {
		r := &records[len(records)-1-i]
		out[i] = &session.Message{
			ID:          r.ID,
			SessionID:   r.SessionID,
			Role:        session.Role(r.Role),
			Content:     r.Content,
			ToolCalls:   r.ToolCalls,
			ToolResults: r.ToolResults,
			CreatedAt:   r.CreatedAt.UTC(),
		}
	}
	return out, nil
}

// DeleteIdleSessions removes sessions not updated since before.
func (b *SessionBackend) DeleteIdleSessions(ctx context.Context, before time.Time) (int, error) {
	var n int64
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		idle := tx.Model(&sessionRecord{}).Select("id").Where("updated_at < ?", before)
		if err := tx.Where("session_id IN (?)", idle).Delete(&messageRecord{}).Error; err != nil {
			return fmt.Errorf("delete idle messages: %w", err)
		}
		res := tx.Where("updated_at < ?", before).Delete(&sessionRecord{})
		if res.Error != nil {
			return fmt.Errorf("delete idle sessions: %w", res.Error)
		}
		n = res.RowsAffected
		return nil
	})
	return int(n), err
}

// Ping checks the database connection.
func (b *SessionBackend) Ping(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op.
func (b *SessionBackend) Close() error {
	return nil
}

var (
	_ session.StorageBackend = (*SessionBackend)(nil)
	_ session.Pinger         = (*SessionBackend)(nil)
)
