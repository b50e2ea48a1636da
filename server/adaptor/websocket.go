package adaptor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"

	"cdr.dev/slog/v3"

	"github.com/ponyo877/collab/server/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// envelopeHeadroom covers the event name and fields around a payload.
	envelopeHeadroom = 3072
)

// Headers a trusted upstream sets to bind the connection to a user.
const (
	UserIDHeader   = "X-Collab-User-Id"
	UserNameHeader = "X-Collab-User-Name"
)

// WebSocketHandler upgrades requests and serves the JSON envelope protocol
// over the resulting connection.
type WebSocketHandler struct {
	logger   slog.Logger
	uc       Usecase
	clock     quartz.Clock
	readLimit int64
	upgrader  websocket.Upgrader
}

// NewWebSocketHandler accepts frames large enough to carry a payload of
// maxPayloadBytes. Larger frames close the connection.
func NewWebSocketHandler(logger slog.Logger, uc Usecase, clock quartz.Clock, maxPayloadBytes int) *WebSocketHandler {
	return &WebSocketHandler{
		logger:    logger.Named("websocket"),
		uc:        uc,
		clock:     clock,
		readLimit: ReadLimit(maxPayloadBytes),
		upgrader:  websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ReadLimit is the largest frame accepted for a payload cap of maxPayloadBytes.
func ReadLimit(maxPayloadBytes int) int64 {
	if maxPayloadBytes < 0 {
		maxPayloadBytes = 0
	}
	return int64(maxPayloadBytes) + envelopeHeadroom
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "upgrade", slog.Error(err))
		return
	}

	session := domain.NewStreamSession(domain.NewSessionID(), r.RemoteAddr, "websocket", h.clock.Now())
	if userID := r.Header.Get(UserIDHeader); userID != "" {
		session = session.WithIdentity(userID, r.Header.Get(UserNameHeader))
	}
	h.serve(r.Context(), ws, session)
}

// serve runs the connection until the peer goes away. Reads happen on the
// calling goroutine, writes on their own.
func (h *WebSocketHandler) serve(ctx context.Context, ws *websocket.Conn, session domain.StreamSession) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := h.logger.With(slog.F("session_id", session.ID), slog.F("remote", session.Remote))

	frames := make(chan []byte, 32)
	responses := make(chan domain.StreamResponse, 256)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(responses)
		if err := h.uc.HandleStreamSession(ctx, frames, responses, session); err != nil {
			logger.Warn(ctx, "stream session", slog.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		h.writePump(ws, responses)
	}()

	h.readPump(ctx, ws, frames, logger)
	close(frames)
	wg.Wait()
	_ = ws.Close()
}

func (h *WebSocketHandler) readPump(ctx context.Context, ws *websocket.Conn, frames chan<- []byte, logger slog.Logger) {
	ws.SetReadLimit(h.readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Info(ctx, "read error", slog.Error(err))
			}
			return
		}
		select {
		case frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

// writePump drains responses until the session ends. A failed write closes
// the socket, which ends readPump and with it the session.
func (h *WebSocketHandler) writePump(ws *websocket.Conn, responses <-chan domain.StreamResponse) {
	ticker := h.clock.NewTicker(pingPeriod, "websocket", "ping")
	defer ticker.Stop()

	failed := false
	for {
		select {
		case response, ok := <-responses:
			if !ok {
				if !failed {
					_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}
			if failed {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, response.Payload); err != nil {
				failed = true
				_ = ws.Close()
			}
		case <-ticker.C:
			if failed {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				failed = true
				_ = ws.Close()
			}
		}
	}
}
