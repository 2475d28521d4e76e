package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsReadLimit   = 4 * 1024
	wsPongWait    = 60 * time.Second
	wsWriteWait   = 10 * time.Second
	wsDefaultPing = 30 * time.Second
)

// Subscriber is the part of the hub a connection needs.
type Subscriber interface {
	Subscribe(room string) (<-chan realtime.Event, func())
}

// RealtimeHandler upgrades authenticated requests and streams the caller's
// room over a websocket.
type RealtimeHandler struct {
	hub          Subscriber
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	log          *logger.Logger
}

// NewRealtimeHandler accepts upgrades from allowedOrigin, or from any origin
// when it is empty.
func NewRealtimeHandler(hub Subscriber, allowedOrigin string, pingInterval time.Duration, log *logger.Logger) *RealtimeHandler {
	if pingInterval <= 0 {
		pingInterval = wsDefaultPing
	}
	return &RealtimeHandler{
		hub:          hub,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigin),
		},
		log: log.Named("ws"),
	}
}

func checkOrigin(allowed string) func(r *http.Request) bool {
	allowed = strings.TrimRight(allowed, "/")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowed == "" || origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Scheme+"://"+u.Host, allowed)
	}
}

func (h *RealtimeHandler) Serve(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	room := user.ID.String()

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.Warn("websocket upgrade failed", zap.Error(err), zap.String("user_id", room))
		return
	}
	defer ws.Close()

	events, cancel := h.hub.Subscribe(room)
	defer cancel()

	h.log.Info("websocket connected", zap.String("user_id", room))
	defer h.log.Info("websocket closed", zap.String("user_id", room))

	ws.SetReadLimit(wsReadLimit)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Clients send nothing we act on; reading keeps control frames flowing
	// and notices the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug("websocket read error", zap.Error(err), zap.String("user_id", room))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(ev); err != nil {
				h.log.Debug("websocket write failed", zap.Error(err), zap.String("user_id", room))
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
