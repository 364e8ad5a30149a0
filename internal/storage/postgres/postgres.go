// Package postgres stores todos and conversations in PostgreSQL through
// gorm. Tool calls and results are kept in jsonb columns.
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aixgo-dev/todo-assistant/pkg/session"
)

type todoRecord struct {
	ID          string    `gorm:"size:36;primaryKey"`
	UserID      string    `gorm:"size:255;not null;index:idx_todos_user_created,priority:1"`
	Title       string    `gorm:"size:200;not null"`
	Description string    `gorm:"type:text;not null;default:''"`
	Completed   bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false;index:idx_todos_user_created,priority:2,sort:desc"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
}

func (todoRecord) TableName() string {
	return "todos"
}

type sessionRecord struct {
	ID           string    `gorm:"size:36;primaryKey"`
	UserID       string    `gorm:"size:255;not null;index:idx_sessions_user_updated,priority:1"`
	Title        string    `gorm:"type:text;not null;default:''"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false;index:idx_sessions_user_updated,priority:2,sort:desc;index"`
	MessageCount int       `gorm:"not null;default:0"`
}

func (sessionRecord) TableName() string {
	return "sessions"
}

type messageRecord struct {
	ID          string                                  `gorm:"size:36;primaryKey"`
	SessionID   string                                  `gorm:"size:36;not null;uniqueIndex:idx_messages_session_seq,priority:1"`
	Seq         int                                     `gorm:"not null;uniqueIndex:idx_messages_session_seq,priority:2"`
	Role        string                                  `gorm:"size:16;not null"`
	Content     string                                  `gorm:"type:text;not null;default:''"`
	ToolCalls   datatypes.JSONSlice[session.ToolCall]   `gorm:"type:jsonb"`
	ToolResults datatypes.JSONSlice[session.ToolResult] `gorm:"type:jsonb"`
	CreatedAt   time.Time                               `gorm:"autoCreateTime:false"`
}

func (messageRecord) TableName() string {
	return "messages"
}

// DB is a migrated PostgreSQL connection.
type DB struct {
	gorm *gorm.DB
	now  func() time.Time
}

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn is required (DATABASE_URL)")
	}
	now := func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

	g, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Discard,
		NowFunc: now,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := g.WithContext(ctx).AutoMigrate(&todoRecord{}, &sessionRecord{}, &messageRecord{}); err != nil {
		if sqlDB, derr := g.DB(); derr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{gorm: g, now: now}, nil
}

// Todos returns the todo store backed by d.
func (d *DB) Todos() *TodoStore {
	return &TodoStore{db: d.gorm, now: d.now}
}

// Sessions returns the conversation backend backed by d.
func (d *DB) Sessions() *SessionBackend {
	return &SessionBackend{db: d.gorm}
}

// Ping checks the database connection.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// reset empties every table. Tests only.
func (d *DB) reset(ctx context.Context) error {
	return d.gorm.WithContext(ctx).Exec("TRUNCATE todos, sessions, messages").Error
}
