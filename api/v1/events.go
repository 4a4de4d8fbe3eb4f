package v1

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yourusername/site-monitor/core"
	"go.uber.org/zap"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

var knownEventTypes = map[core.EventType]bool{
	core.EventCheckCompleted:   true,
	core.EventCheckFailed:      true,
	core.EventStatusChanged:    true,
	core.EventAlertTriggered:   true,
	core.EventAlertResolved:    true,
	core.EventHealthChecked:    true,
	core.EventDBProbeCompleted: true,
}

// EventHandler streams engine events over WebSocket
type EventHandler struct {
	app      *core.App
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewEventHandler creates a new event stream handler accepting the
// server's own origin plus allowedOrigins
func NewEventHandler(app *core.App, allowedOrigins []string) *EventHandler {
	return &EventHandler{
		app:    app,
		logger: app.Logger().Named("events_ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(allowedOrigins),
		},
	}
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients), same-origin requests and configured origins
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return originAllowed(allowed, origin)
	}
}

// Stream upgrades the request and forwards events until the client leaves.
// ?type= may be repeated to select event types.
func (h *EventHandler) Stream(c *gin.Context) {
	var types []core.EventType
	for _, t := range c.QueryArray("type") {
		et := core.EventType(t)
		if !knownEventTypes[et] {
			SendBadRequest(c, fmt.Sprintf("unknown event type %q", t))
			return
		}
		types = append(types, et)
	}
	if !websocket.IsWebSocketUpgrade(c.Request) {
		SendBadRequest(c, "require websocket upgrade")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.app.Subscribe(eventBuffer, types...)
	defer sub.Close()

	// the reader only exists to notice the client going away and to
	// process pongs
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event bus closed"), time.Now().Add(writeTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("event client write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
