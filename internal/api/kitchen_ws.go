package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/fulfillment/kitchen"
	"order-fulfillment/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadLimit    = 4 * 1024
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
	wsSendBuffer   = 256
)

func newUpgrader(origins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and, when origins is non-empty, only the listed browser origins.
func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(r *http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// Outbound messages.
type boardMessage struct {
	Type  string        `json:"type"`
	Board kitchen.Board `json:"board"`
}

type alertMessage struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
}

type errorMessage struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id,omitempty"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// Inbound commands.
type kitchenCommand struct {
	Action  string `json:"action"`
	OrderID string `json:"order_id,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// kitchenConn is one connected kitchen display.
type kitchenConn struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	display   *kitchen.Display
	server    *Server

	mu     sync.Mutex
	closed bool
}

func (s *Server) handleKitchenSocket(c *gin.Context) {
	branchID := c.Param("branchId")
	sessionID := c.Query("session")

	opts := s.deps.KitchenOptions
	opts.AlertsEnabled = true
	if sessionID != "" && s.deps.Sessions != nil {
		if sel, err := s.deps.Sessions.Load(c.Request.Context(), sessionID); err == nil {
			opts.AlertsEnabled = sel.KDSAlertsEnabled
		}
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{
			"branchId": branchID,
			"error":    err.Error(),
		})
		return
	}

	kc := &kitchenConn{
		id:        uuid.NewString(),
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, wsSendBuffer),
		display:   kitchen.NewDisplay(branchID, s.deps.Orders, s.deps.KitchenFeed, opts, s.logger),
		server:    s,
	}
	kc.display.OnChange(func(b kitchen.Board) {
		kc.enqueue(boardMessage{Type: "board", Board: b})
	})
	kc.display.OnAlert(func(o models.Order) {
		kc.enqueue(alertMessage{Type: "alert", OrderID: o.ID})
	})

	s.logger.Info("kitchen display connected", map[string]interface{}{
		"branchId":     branchID,
		"connectionId": kc.id,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := kc.display.Run(ctx); err != nil {
			s.logger.Warn("kitchen display stopped", map[string]interface{}{
				"connectionId": kc.id,
				"error":        err.Error(),
			})
		}
	}()
	go kc.writePump()
	go func() {
		kc.readPump(ctx)
		cancel()
		kc.shutdown()
		s.logger.Info("kitchen display disconnected", map[string]interface{}{
			"branchId":     branchID,
			"connectionId": kc.id,
		})
	}()
}

func (kc *kitchenConn) readPump(ctx context.Context) {
	kc.conn.SetReadLimit(wsReadLimit)
	_ = kc.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	kc.conn.SetPongHandler(func(string) error {
		return kc.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, message, err := kc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				kc.server.logger.Warn("kitchen websocket error", map[string]interface{}{
					"connectionId": kc.id,
					"error":        err.Error(),
				})
			}
			return
		}
		kc.handleCommand(ctx, message)
	}
}

func (kc *kitchenConn) handleCommand(ctx context.Context, message []byte) {
	var cmd kitchenCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		kc.enqueue(errorMessage{Type: "error", Code: string(apperrors.ErrCodeValidationFailed), Error: "malformed command"})
		return
	}

	switch cmd.Action {
	case "advance":
		// Blocking the read loop keeps one staff terminal's taps in order.
		if _, err := kc.display.Advance(ctx, cmd.OrderID); err != nil {
			kc.enqueue(errorMessage{
				Type:    "error",
				OrderID: cmd.OrderID,
				Code:    string(apperrors.CodeOf(err)),
				Error:   err.Error(),
			})
		}
	case "alerts":
		if cmd.Enabled == nil {
			kc.enqueue(errorMessage{Type: "error", Code: string(apperrors.ErrCodeValidationFailed), Error: "enabled is required"})
			return
		}
		kc.display.SetAlerts(*cmd.Enabled)
		kc.persistAlerts(ctx, *cmd.Enabled)
	case "refresh":
		if err := kc.display.Reload(ctx); err != nil {
			kc.enqueue(errorMessage{Type: "error", Code: string(apperrors.CodeOf(err)), Error: err.Error()})
		}
	default:
		kc.enqueue(errorMessage{Type: "error", Code: string(apperrors.ErrCodeValidationFailed), Error: "unknown action " + cmd.Action})
	}
}

func (kc *kitchenConn) persistAlerts(ctx context.Context, enabled bool) {
	sessions := kc.server.deps.Sessions
	if kc.sessionID == "" || sessions == nil {
		return
	}
	sel, err := sessions.Load(ctx, kc.sessionID)
	if err == nil {
		sel.KDSAlertsEnabled = enabled
		_, err = sessions.Save(ctx, kc.sessionID, sel)
	}
	if err != nil {
		kc.server.logger.Warn("failed to persist alert preference", map[string]interface{}{
			"sessionId": kc.sessionID,
			"error":     err.Error(),
		})
	}
}

func (kc *kitchenConn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		kc.conn.Close()
	}()

	for {
		select {
		case message, ok := <-kc.send:
			_ = kc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = kc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := kc.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = kc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := kc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the message when the client is not keeping up; the next
// board replaces it anyway.
func (kc *kitchenConn) enqueue(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	kc.mu.Lock()
	defer kc.mu.Unlock()
	if kc.closed {
		return
	}
	select {
	case kc.send <- data:
	default:
		kc.server.logger.Warn("kitchen websocket buffer full, dropping message", map[string]interface{}{
			"connectionId": kc.id,
		})
	}
}

func (kc *kitchenConn) shutdown() {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	if !kc.closed {
		kc.closed = true
		close(kc.send)
	}
}
