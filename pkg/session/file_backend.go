package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrInvalidPathComponent is returned when a path component contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path component.
// It rejects empty strings, path separators, and traversal sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileBackend implements StorageBackend using JSON and JSONL files.
// Storage layout:
//
//	<base-dir>/
//	  ├── sessions.json          # Session index keyed by ID
//	  └── messages/
//	      └── <session-id>.jsonl # One message per line
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileBackend creates a new file-based storage backend.
// If baseDir is empty, uses ~/.todo-assistant/conversations.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".todo-assistant", "conversations")
	}

	if err := os.MkdirAll(filepath.Join(baseDir, "messages"), 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileBackend{baseDir: baseDir}, nil
}

func (f *FileBackend) indexPath() string {
	return filepath.Join(f.baseDir, "sessions.json")
}

func (f *FileBackend) messagesPath(sessionID string) string {
	return filepath.Join(f.baseDir, "messages", sessionID+".jsonl")
}

func (f *FileBackend) readIndex() (map[string]*Session, error) {
	index := make(map[string]*Session)

	data, err := os.ReadFile(f.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, fmt.Errorf("read sessions index: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse sessions index: %w", err)
	}
	return index, nil
}

func (f *FileBackend) writeIndex(index map[string]*Session) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions index: %w", err)
	}

	tmp := f.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write sessions index: %w", err)
	}
	if err := os.Rename(tmp, f.indexPath()); err != nil {
		return fmt.Errorf("replace sessions index: %w", err)
	}
	return nil
}

// SaveSession creates or updates session metadata.
func (f *FileBackend) SaveSession(ctx context.Context, sess *Session) error {
	if err := validatePathComponent(sess.ID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}

	index, err := f.readIndex()
	if err != nil {
		return err
	}
	cp := *sess
	index[sess.ID] = &cp
	return f.writeIndex(index)
}

// LoadSession retrieves session metadata by ID.
func (f *FileBackend) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	index, err := f.readIndex()
	if err != nil {
		return nil, err
	}
	sess, ok := index[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// DeleteSession removes a session and its message log.
func (f *FileBackend) DeleteSession(ctx context.Context, sessionID string) error {
	if err := validatePathComponent(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}
	return f.deleteUnlocked(sessionID)
}

func (f *FileBackend) deleteUnlocked(ids ...string) error {
	index, err := f.readIndex()
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(index, id)
		if err := os.Remove(f.messagesPath(id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove messages: %w", err)
		}
	}
	return f.writeIndex(index)
}

// ListSessions returns a user's sessions ordered by UpdatedAt descending.
func (f *FileBackend) ListSessions(ctx context.Context, opts ListOptions) ([]*Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	index, err := f.readIndex()
	if err != nil {
		return nil, err
	}

	out := make([]*Session, 0)
	for _, sess := range index {
		if sess.UserID == opts.UserID {
			out = append(out, sess)
		}
	}
	sortByUpdatedDesc(out)

	start, end := opts.window(len(out))
	return out[start:end], nil
}

// AppendMessage appends msg to the session log and rewrites its metadata
// while holding the write lock.
func (f *FileBackend) AppendMessage(ctx context.Context, sessionID string, msg *Message) error {
	if err := validatePathComponent(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}

	index, err := f.readIndex()
	if err != nil {
		return err
	}
	sess, ok := index[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Advance(msg)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	file, err := os.OpenFile(f.messagesPath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open messages file: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		_ = file.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close messages file: %w", err)
	}

	return f.writeIndex(index)
}

// LoadMessages returns the newest limit messages in append order.
func (f *FileBackend) LoadMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	if err := validatePathComponent(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	file, err := os.Open(f.messagesPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*Message{}, nil
		}
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer file.Close()

	var all []*Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("parse message: %w", err)
		}
		all = append(all, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read messages file: %w", err)
	}

	return all[tail(len(all), limit):], nil
}

// DeleteIdleSessions removes sessions not updated since before.
func (f *FileBackend) DeleteIdleSessions(ctx context.Context, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrStorageClosed
	}

	index, err := f.readIndex()
	if err != nil {
		return 0, err
	}

	var stale []string
	for id, sess := range index {
		if sess.UpdatedAt.Before(before) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := f.deleteUnlocked(stale...); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Close marks the backend closed.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ StorageBackend = (*FileBackend)(nil)
