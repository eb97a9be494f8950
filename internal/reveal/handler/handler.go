// Package handler exposes the chat identity reveal operations over HTTP and
// the per-chat WebSocket event stream.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cirvia/internal/reveal"
	"cirvia/internal/reveal/service"
	"cirvia/pkg/domain"
	dErrors "cirvia/pkg/domain-errors"
	"cirvia/pkg/platform/httputil"
	"cirvia/pkg/platform/middleware"
	"cirvia/pkg/requestcontext"
)

// Service defines the reveal operations the handler needs.
type Service interface {
	Reveal(ctx context.Context, chatID domain.ChatID, actorID domain.UserID) (*reveal.Reveal, error)
	RequestMutualReveal(ctx context.Context, chatID domain.ChatID, actorID domain.UserID) (*reveal.Reveal, error)
	AcceptMutualReveal(ctx context.Context, chatID domain.ChatID, actorID domain.UserID) (*reveal.Reveal, error)
	RevokeReveal(ctx context.Context, chatID domain.ChatID, actorID domain.UserID) (*reveal.Reveal, error)
	GetRevealStatus(ctx context.Context, chatID domain.ChatID, actorID domain.UserID) (*service.Status, error)
}

// Handler handles reveal endpoints.
type Handler struct {
	reveal Service
	stream *Stream
	logger *slog.Logger
}

// New creates a new reveal Handler. The stream is optional; without it the
// WebSocket route is not registered.
func New(revealSvc Service, stream *Stream, logger *slog.Logger) *Handler {
	return &Handler{reveal: revealSvc, stream: stream, logger: logger}
}

// Register registers the reveal routes. The router is expected to carry the
// auth middleware already.
func (h *Handler) Register(r chi.Router) {
	r.Post("/chats/{chatID}/identity/reveal", h.transition(h.reveal.Reveal))
	r.Post("/chats/{chatID}/identity/request-mutual", h.transition(h.reveal.RequestMutualReveal))
	r.Post("/chats/{chatID}/identity/accept-mutual", h.transition(h.reveal.AcceptMutualReveal))
	r.Post("/chats/{chatID}/identity/revoke", h.transition(h.reveal.RevokeReveal))
	r.Get("/chats/{chatID}/identity/status", h.handleStatus)
	if h.stream != nil {
		r.Get("/chats/{chatID}/identity/ws", h.stream.ServeHTTP)
	}
}

// revealResponse is the wire shape of one directional reveal record.
type revealResponse struct {
	ChatID      string  `json:"chatId"`
	FromUserID  string  `json:"fromUserId"`
	ToUserID    string  `json:"toUserId"`
	Status      string  `json:"status"`
	InitiatedAt string  `json:"initiatedAt"`
	ConfirmedAt *string `json:"confirmedAt,omitempty"`
	RevokedAt   *string `json:"revokedAt,omitempty"`
}

func toRevealResponse(r *reveal.Reveal) revealResponse {
	out := revealResponse{
		ChatID:      r.ChatID.String(),
		FromUserID:  r.FromUserID.String(),
		ToUserID:    r.ToUserID.String(),
		Status:      r.Status.String(),
		InitiatedAt: r.InitiatedAt.Format(timeFormat),
	}
	if r.ConfirmedAt != nil {
		t := r.ConfirmedAt.Format(timeFormat)
		out.ConfirmedAt = &t
	}
	if r.RevokedAt != nil {
		t := r.RevokedAt.Format(timeFormat)
		out.RevokedAt = &t
	}
	return out
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func (h *Handler) params(w http.ResponseWriter, r *http.Request) (domain.ChatID, domain.UserID, bool) {
	chatID, err := domain.ParseChatID(chi.URLParam(r, "chatID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid chat id"))
		return domain.ChatID{}, domain.UserID{}, false
	}
	actorID, err := domain.ParseUserID(middleware.GetUserID(r.Context()))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "userID missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return domain.ChatID{}, domain.UserID{}, false
	}
	return chatID, actorID, true
}

// transition adapts one state machine operation into an HTTP handler; all
// four mutating endpoints share the same request and response shape.
func (h *Handler) transition(op func(context.Context, domain.ChatID, domain.UserID) (*reveal.Reveal, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		chatID, actorID, ok := h.params(w, r)
		if !ok {
			return
		}

		record, err := op(ctx, chatID, actorID)
		if err != nil {
			h.writeServiceError(ctx, w, "reveal transition failed", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toRevealResponse(record))
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, actorID, ok := h.params(w, r)
	if !ok {
		return
	}

	status, err := h.reveal.GetRevealStatus(ctx, chatID, actorID)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to load reveal status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
