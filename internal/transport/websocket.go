package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/cauce-ai/cauce-hub/internal/domain"
	"github.com/cauce-ai/cauce-hub/internal/hub"
	"github.com/cauce-ai/cauce-hub/internal/jsonrpc"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 30 * time.Second
	wsMaxMessageSize = 64 * 1024
	wsSendBuffer     = 256
)

// WebSocket mounts the full-duplex WebSocket transport at GET /ws. Each
// connection runs its own hello handshake, then a read pump (dispatching
// cauce.* requests into the hub) and a write pump (responses plus any
// cauce.signal notifications the hub pushes through the registered sender).
type WebSocket struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWebSocket(h *hub.Hub, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "ws-transport"),
	}
}

func (t *WebSocket) Name() string { return "websocket" }

func (t *WebSocket) Mount(r *mux.Router) {
	r.HandleFunc("/ws", t.handleUpgrade).Methods(http.MethodGet)
}

func (t *WebSocket) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := &wsConn{
		hub:       t.hub,
		conn:      conn,
		send:      make(chan []byte, wsSendBuffer),
		logger:    t.logger,
		connected: 1,
	}
	go c.writePump()
	c.readPump()
}

// wsConn is one WebSocket connection, state-machined Greeting -> Ready. It
// satisfies delivery.Sender once a session exists so the hub (and the
// redelivery scheduler) can push it cauce.signal notifications directly.
type wsConn struct {
	hub       *hub.Hub
	conn      *websocket.Conn
	sessionID string

	send      chan []byte
	connected int32 // atomic

	logger *slog.Logger
}

// SendSignal satisfies delivery.Sender.
func (c *wsConn) SendSignal(d domain.SignalDelivery) error {
	msg, err := jsonrpc.NewNotification("cauce.signal", map[string]any{"topic": d.Topic, "signal": d.Signal})
	if err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- data:
			return nil
		default:
			return websocket.ErrCloseSent
		}
	}
}

// IsConnected satisfies delivery.Sender.
func (c *wsConn) IsConnected() bool {
	return atomic.LoadInt32(&c.connected) == 1
}

func (c *wsConn) readPump() {
	defer func() {
		atomic.StoreInt32(&c.connected, 0)
		if c.sessionID != "" {
			c.hub.Senders.Unregister(c.sessionID)
		}
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// Greeting: refuse everything but cauce.hello.
	if !c.awaitHello() {
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket unexpected close", "error", err, "session_id", c.sessionID)
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *wsConn) awaitHello() bool {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return false
	}
	msg, err := jsonrpc.Parse(raw)
	if err != nil || msg.Kind() != jsonrpc.KindRequest || msg.Method != "cauce.hello" {
		c.writeErrorResponse(msg, jsonrpc.ErrInvalidRequest)
		return false
	}

	var params hub.HelloParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.writeErrorResponse(msg, jsonrpc.ErrInvalidParams)
		return false
	}

	sess, result, rpcErr := c.hub.Hello(params, "websocket", "", time.Now())
	if rpcErr != nil {
		c.writeErrorResponse(msg, rpcErr)
		return false
	}

	c.sessionID = sess.SessionID
	c.hub.Senders.Register(c.sessionID, c)

	resp, err := jsonrpc.NewResultResponse(msg.ID, result)
	if err != nil {
		return false
	}
	data, err := resp.Encode()
	if err != nil {
		return false
	}
	return c.enqueue(data)
}

func (c *wsConn) handleFrame(raw []byte) {
	msg, err := jsonrpc.Parse(raw)
	if err != nil || msg.Kind() != jsonrpc.KindRequest {
		c.writeErrorResponse(msg, jsonrpc.ErrInvalidRequest)
		return
	}

	result, rpcErr := c.hub.Dispatch(context.Background(), c.sessionID, msg.Method, msg.Params, time.Now())
	if rpcErr != nil {
		c.writeErrorResponse(msg, rpcErr)
		return
	}

	resp, err := jsonrpc.NewResultResponse(msg.ID, result)
	if err != nil {
		c.logger.Error("encode result response", "error", err, "method", msg.Method)
		return
	}
	data, err := resp.Encode()
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *wsConn) writeErrorResponse(msg *jsonrpc.Message, rpcErr *jsonrpc.Error) {
	var id *jsonrpc.MessageID
	if msg != nil {
		id = msg.ID
	}
	resp := jsonrpc.NewErrorResponse(id, rpcErr)
	data, err := resp.Encode()
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *wsConn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping frame", "session_id", c.sessionID)
		return false
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
