package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/aixgo-dev/todo-assistant/internal/assistant"
	"github.com/aixgo-dev/todo-assistant/internal/logging"
	"github.com/aixgo-dev/todo-assistant/pkg/security"
	"github.com/aixgo-dev/todo-assistant/pkg/session"
)

// maxChatBody bounds the chat request body. A maximal message of 4-byte
// runes plus JSON escaping fits comfortably.
const maxChatBody = 256 << 10

const maxListLimit = 100

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type conversationList struct {
	Conversations []*session.Session `json:"conversations"`
}

type conversationDetail struct {
	*session.Session
	Messages []*session.Message `json:"messages"`
}

// requireOwner rejects callers whose principal is not the {user_id} in
// the path.
func (s *Server) requireOwner(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := security.GetPrincipal(r.Context())
		if err != nil {
			security.WriteError(w, http.StatusUnauthorized, security.NewSecureError(security.ErrCodeUnauthorized, "authentication required"))
			return
		}
		if principal.ID != r.PathValue("user_id") {
			security.LogAccessDenied(r.Context(), s.audit, r.URL.Path, r.Method)
			security.WriteError(w, http.StatusForbidden, security.NewSecureError(security.ErrCodeForbidden, "access denied"))
			return
		}
		ctx := logging.WithUserID(r.Context(), s.logger, principal.ID)
		next(w, r.WithContext(ctx))
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	if s.limiter != nil && !s.limiter.Allow(userID) {
		event := security.NewAuditEvent(r.Context(), security.EventRateLimited, "denied")
		event.Resource = r.URL.Path
		event.Action = "chat"
		s.audit.Log(r.Context(), event)
		w.Header().Set("Retry-After", "1")
		security.WriteError(w, http.StatusTooManyRequests, security.NewSecureError(security.ErrCodeRateLimit, "too many requests"))
		return
	}

	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			security.WriteError(w, http.StatusRequestEntityTooLarge, security.NewSecureError(security.ErrCodeInvalidInput, "request body too large"))
			return
		}
		security.WriteError(w, http.StatusBadRequest, security.NewSecureError(security.ErrCodeInvalidInput, "malformed request body"))
		return
	}

	res, err := s.svc.HandleTurn(r.Context(), userID, req.Message, req.ConversationID)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeTurnError maps HandleTurn failures onto the public error vocabulary.
func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		security.WriteError(w, http.StatusBadRequest, security.NewSecureError(security.ErrCodeInvalidInput, "message must not be empty"))
	case errors.Is(err, assistant.ErrMessageTooLong):
		msg := "message exceeds " + strconv.Itoa(s.svc.Config().MaxMessageLength) + " characters"
		security.WriteError(w, http.StatusBadRequest, security.NewSecureError(security.ErrCodeInvalidInput, msg))
	case errors.Is(err, assistant.ErrInvalidSessionID):
		security.WriteError(w, http.StatusBadRequest, security.NewSecureError(security.ErrCodeInvalidInput, "invalid conversation_id"))
	case errors.Is(err, session.ErrForbidden):
		security.LogAccessDenied(r.Context(), s.audit, "conversation", "chat")
		security.WriteError(w, http.StatusForbidden, security.NewSecureError(security.ErrCodeForbidden, "access denied"))
	case errors.Is(err, session.ErrSessionNotFound):
		security.WriteError(w, http.StatusNotFound, security.NewSecureError(security.ErrCodeNotFound, "conversation not found"))
	case errors.Is(err, assistant.ErrModelUnavailable):
		security.WriteError(w, http.StatusServiceUnavailable, security.NewSecureError(security.ErrCodeServiceUnavailable, "assistant is temporarily unavailable"))
	default:
		logging.FromContext(r.Context(), s.logger).Error("chat turn failed",
			"storage", assistant.IsStorageError(err),
			"error", security.ScrubError(err),
		)
		security.WriteError(w, http.StatusInternalServerError, security.InternalError())
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	opts := session.ListOptions{Limit: maxListLimit}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			security.WriteError(w, http.StatusBadRequest, security.NewSecureError(security.ErrCodeInvalidInput, "limit must be between 1 and 100"))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			security.WriteError(w, http.StatusBadRequest, security.NewSecureError(security.ErrCodeInvalidInput, "offset must be a non-negative integer"))
			return
		}
		opts.Offset = n
	}

	sessions, err := s.svc.Sessions().List(r.Context(), r.PathValue("user_id"), opts)
	if err != nil {
		s.internalError(w, r, "list conversations", err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, conversationList{Conversations: sessions})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, id := r.PathValue("user_id"), r.PathValue("conversation_id")
	if _, err := uuid.Parse(id); err != nil {
		writeNotFound(w)
		return
	}

	sess, err := s.svc.Sessions().Get(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrForbidden) {
			writeNotFound(w)
			return
		}
		s.internalError(w, r, "load conversation", err)
		return
	}
	msgs, err := s.svc.Sessions().History(r.Context(), id, 0)
	if err != nil {
		s.internalError(w, r, "load messages", err)
		return
	}
	if msgs == nil {
		msgs = []*session.Message{}
	}
	writeJSON(w, http.StatusOK, conversationDetail{Session: sess, Messages: msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, id := r.PathValue("user_id"), r.PathValue("conversation_id")
	if _, err := uuid.Parse(id); err != nil {
		writeNotFound(w)
		return
	}

	if err := s.svc.Sessions().Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrForbidden) {
			writeNotFound(w)
			return
		}
		s.internalError(w, r, "delete conversation", err)
		return
	}

	event := security.NewAuditEvent(r.Context(), security.EventConversationDeleted, "success")
	event.Resource = id
	event.Action = "delete"
	s.audit.Log(r.Context(), event)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.FromContext(r.Context(), s.logger).Error(op+" failed", "error", security.ScrubError(err))
	security.WriteError(w, http.StatusInternalServerError, security.InternalError())
}

func writeNotFound(w http.ResponseWriter) {
	security.WriteError(w, http.StatusNotFound, security.NewSecureError(security.ErrCodeNotFound, "conversation not found"))
}

// writeJSON encodes v before committing the status so an encoding failure
// still produces a proper error response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		security.WriteError(w, http.StatusInternalServerError, security.InternalError())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
