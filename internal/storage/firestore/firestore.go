// Package firestore stores conversations in Cloud Firestore. Each session
// is a document in the sessions collection; its messages live in a
// messages subcollection ordered by seq.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aixgo-dev/todo-assistant/pkg/session"
)

// Config configures the backend.
type Config struct {
	ProjectID       string
	CredentialsFile string
	// CollectionPrefix namespaces collections, e.g. per environment.
	CollectionPrefix string
}

// Backend implements session.StorageBackend.
type Backend struct {
	client *firestore.Client
	prefix string
}

// New creates a Firestore client for cfg.ProjectID. The client honours
// FIRESTORE_EMULATOR_HOST.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required for Firestore store")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return NewWithClient(client, cfg.CollectionPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *firestore.Client, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) sessionsCol() *firestore.CollectionRef {
	return b.client.Collection(b.prefix + "sessions")
}

func (b *Backend) sessionDoc(id string) *firestore.DocumentRef {
	return b.sessionsCol().Doc(id)
}

func (b *Backend) messagesCol(sessionID string) *firestore.CollectionRef {
	return b.sessionDoc(sessionID).Collection("messages")
}

type sessionDoc struct {
	UserID       string    `firestore:"user_id"`
	Title        string    `firestore:"title"`
	CreatedAt    time.Time `firestore:"created_at"`
	UpdatedAt    time.Time `firestore:"updated_at"`
	MessageCount int       `firestore:"message_count"`
}

// Tool payloads are stored as JSON strings so arbitrary argument shapes
// survive the Firestore type system unchanged.
type messageDoc struct {
	Seq         int       `firestore:"seq"`
	Role        string    `firestore:"role"`
	Content     string    `firestore:"content"`
	ToolCalls   string    `firestore:"tool_calls,omitempty"`
	ToolResults string    `firestore:"tool_results,omitempty"`
	CreatedAt   time.Time `firestore:"created_at"`
}

func toSessionDoc(s *session.Session) sessionDoc {
	return sessionDoc{
		UserID:       s.UserID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: s.MessageCount,
	}
}

func decodeSession(snap *firestore.DocumentSnapshot) (*session.Session, error) {
	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", snap.Ref.ID, err)
	}
	return &session.Session{
		ID:           snap.Ref.ID,
		UserID:       doc.UserID,
		Title:        doc.Title,
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
		MessageCount: doc.MessageCount,
	}, nil
}

// SaveSession creates or replaces session metadata.
func (b *Backend) SaveSession(ctx context.Context, sess *session.Session) error {
	if _, err := b.sessionDoc(sess.ID).Set(ctx, toSessionDoc(sess)); err != nil {
		return fmt.Errorf("firestore SaveSession: %w", err)
	}
	return nil
}

// LoadSession retrieves session metadata by ID.
func (b *Backend) LoadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	snap, err := b.sessionDoc(sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("firestore LoadSession: %w", err)
	}
	return decodeSession(snap)
}

// DeleteSession removes a session and its messages.
func (b *Backend) DeleteSession(ctx context.Context, sessionID string) error {
	return b.deleteSessions(ctx, []*firestore.DocumentRef{b.sessionDoc(sessionID)})
}

// deleteSessions removes the message subcollections first; Firestore does
// not cascade.
func (b *Backend) deleteSessions(ctx context.Context, refs []*firestore.DocumentRef) error {
	if len(refs) == 0 {
		return nil
	}
	bw := b.client.BulkWriter(ctx)
	for _, ref := range refs {
		iter := ref.Collection("messages").DocumentRefs(ctx)
		for {
			msgRef, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				bw.End()
				return fmt.Errorf("firestore list messages: %w", err)
			}
			if _, err := bw.Delete(msgRef); err != nil {
				bw.End()
				return fmt.Errorf("firestore queue delete: %w", err)
			}
		}
		if _, err := bw.Delete(ref); err != nil {
			bw.End()
			return fmt.Errorf("firestore queue delete: %w", err)
		}
	}
	bw.End()
	return nil
}

// ListSessions returns a user's sessions ordered by UpdatedAt descending.
func (b *Backend) ListSessions(ctx context.Context, opts session.ListOptions) ([]*session.Session, error) {
	q := b.sessionsCol().
		Where("user_id", "==", opts.UserID).
		OrderBy("updated_at", firestore.Desc)
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := make([]*session.Session, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore ListSessions: %w", err)
		}
		sess, err := decodeSession(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// AppendMessage stores msg and advances the session in one transaction.
// Firestore retries the transaction when the session document changes
// underneath it, so concurrent appends never share a seq.
func (b *Backend) AppendMessage(ctx context.Context, sessionID string, msg *session.Message) error {
	doc := messageDoc{
		Role:    string(msg.Role),
		Content: msg.Content,
	}
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		doc.ToolCalls = string(data)
	}
	if len(msg.ToolResults) > 0 {
		data, err := json.Marshal(msg.ToolResults)
		if err != nil {
			return fmt.Errorf("encode tool results: %w", err)
		}
		doc.ToolResults = string(data)
	}

	sessRef := b.sessionDoc(sessionID)
	msgRef := b.messagesCol(sessionID).Doc(msg.ID)
	proposed := msg.CreatedAt
	err := b.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(sessRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return session.ErrSessionNotFound
			}
			return err
		}
		sess, err := decodeSession(snap)
		if err != nil {
			return err
		}

		msg.CreatedAt = proposed
		sess.Advance(msg)
		doc.Seq = sess.MessageCount
		doc.CreatedAt = msg.CreatedAt
		if err := tx.Set(sessRef, toSessionDoc(sess)); err != nil {
			return err
		}
		return tx.Create(msgRef, doc)
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("firestore AppendMessage: %w", err)
	}
	return nil
}

// LoadMessages returns the newest limit messages in append order.
func (b *Backend) LoadMessages(ctx context.Context, sessionID string, limit int) ([]*session.Message, error) {
	q := b.messagesCol(sessionID).OrderBy("seq", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var newestFirst []*session.Message
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore LoadMessages: %w", err)
		}
		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", snap.Ref.ID, err)
		}
		m := &session.Message{
			ID:        snap.Ref.ID,
			SessionID: sessionID,
			Role:      session.Role(doc.Role),
			Content:   doc.Content,
			CreatedAt: doc.CreatedAt.UTC(),
		}
		if doc.ToolCalls != "" {
			if err := json.Unmarshal([]byte(doc.ToolCalls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of %s: %w", m.ID, err)
			}
		}
		if doc.ToolResults != "" {
			if err := json.Unmarshal([]byte(doc.ToolResults), &m.ToolResults); err != nil {
				return nil, fmt.Errorf("decode tool results of %s: %w", m.ID, err)
			}
		}
		newestFirst = append(newestFirst, m)
	}

	out := make([]*session.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, nil
}

// DeleteIdleSessions removes sessions not updated since before.
func (b *Backend) DeleteIdleSessions(ctx context.Context, before time.Time) (int, error) {
	snaps, err := b.sessionsCol().Where("updated_at", "<", before).Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("firestore idle sessions: %w", err)
	}
	refs := make([]*firestore.DocumentRef, len(snaps))
	for i, snap := range snaps {
		refs[i] = snap.Ref
	}
	if err := b.deleteSessions(ctx, refs); err != nil {
		return 0, err
	}
	return len(refs), nil
}

// Ping reads at most one session document.
func (b *Backend) Ping(ctx context.Context) error {
	iter := b.sessionsCol().Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

// Close closes the Firestore client.
func (b *Backend) Close() error {
	return b.client.Close()
}

var (
	_ session.StorageBackend = (*Backend)(nil)
	_ session.Pinger         = (*Backend)(nil)
)
