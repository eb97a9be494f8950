package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"cirvia/internal/reveal"
	"cirvia/internal/reveal/gateway"
	"cirvia/pkg/domain"
	dErrors "cirvia/pkg/domain-errors"
	"cirvia/pkg/platform/httputil"
	"cirvia/pkg/platform/middleware"
	"cirvia/pkg/platform/sentinel"
	"cirvia/pkg/requestcontext"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Stream upgrades an authenticated request to a WebSocket and forwards the
// chat's reveal events to it. Subscription authorization happens in the
// gateway before the upgrade, so unauthorized callers get a JSON error, not a
// dropped socket.
type Stream struct {
	chats    reveal.ChatStore
	gateway  *gateway.Gateway
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewStream creates the WebSocket endpoint for reveal events.
func NewStream(chats reveal.ChatStore, gw *gateway.Gateway, logger *slog.Logger) *Stream {
	return &Stream{
		chats:   chats,
		gateway: gw,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	chatID, err := domain.ParseChatID(chi.URLParam(r, "chatID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid chat id"))
		return
	}
	userID, err := domain.ParseUserID(middleware.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeNotFound, "chat %s was not found", chatID))
			return
		}
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chat"))
		return
	}

	sub, err := s.gateway.Subscribe(chat, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		s.logger.WarnContext(ctx, "websocket upgrade failed",
			"chat_id", chatID,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return
	}

	go s.readLoop(conn, sub)
	s.writeLoop(conn, sub)
}

// readLoop drains client frames so pongs and close frames are processed. Any
// read error ends the subscription.
func (s *Stream) readLoop(conn *websocket.Conn, sub *gateway.Subscription) {
	defer sub.Close()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) writeLoop(conn *websocket.Conn, sub *gateway.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		_ = conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
