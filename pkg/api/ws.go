package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/networktap/networktap/internal/logger"
	"github.com/networktap/networktap/pkg/events"
	"github.com/networktap/networktap/pkg/metrics"
)

const (
	// wsPingInterval paces server pings; a client missing two pongs in
	// a row times out at wsPongWait.
	wsPingInterval = 30 * time.Second
	wsPongWait     = 90 * time.Second
	wsWriteWait    = 10 * time.Second

	// wsSendBuffer bounds the per-connection outbound queue. Overflow
	// closes the connection rather than buffering without limit.
	wsSendBuffer = 64

	// wsRecentBatch is how many ring events a fresh connection gets.
	wsRecentBatch = 20

	// CloseUnauthorized is the application close code for failed
	// handshake credentials.
	CloseUnauthorized = 4401
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The appliance UI is served from the same host; cross-origin
	// browser clients are fine since auth is per-request Basic.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub tracks live WebSocket clients so shutdown can close them with
// 1001 before the HTTP server stops.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Shutdown closes every live connection with the going-away code.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

// wsMessage is the outbound frame shape.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsInbound is what clients may send: a filter update.
type wsInbound struct {
	Filter *events.Filter `json:"filter"`
}

// wsAlerts upgrades the connection, authenticates, sends the recent
// batch, and streams live alerts until either side closes.
func (h *handlers) wsAlerts(w http.ResponseWriter, r *http.Request) {
	_, authErr := h.Gate.AuthenticateRequest(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	if authErr != nil {
		msg := websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		conn.Close()
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan wsMessage, wsSendBuffer),
		done: make(chan struct{}),
	}
	if !h.Hub.add(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.Hub.remove(c)

	metrics.WSClients.Inc()
	logger.Info("websocket client connected", "conn_id", c.id, "remote", r.RemoteAddr)
	defer func() {
		metrics.WSClients.Dec()
		logger.Info("websocket client disconnected", "conn_id", c.id)
	}()

	sub := h.Bus.Subscribe(events.Filter{})
	defer sub.Close()

	c.enqueue(wsMessage{Type: "recent", Data: h.recentBatch()})

	go c.readLoop(sub)
	go c.pumpLoop(sub)
	c.writeLoop()
}

// recentBatch merges the per-source rings into one time-ordered slice
// of the newest wsRecentBatch events.
func (h *handlers) recentBatch() []events.Alert {
	var all []events.Alert
	for _, src := range []events.Source{events.SourceSuricata, events.SourceZeek, events.SourceAnomaly} {
		all = append(all, h.Bus.Recent(src, wsRecentBatch)...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	if len(all) > wsRecentBatch {
		all = all[len(all)-wsRecentBatch:]
	}
	if all == nil {
		all = []events.Alert{}
	}
	return all
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan wsMessage

	closeOnce sync.Once
	done      chan struct{}
}

// enqueue queues a frame, closing the connection on overflow.
func (c *wsClient) enqueue(m wsMessage) {
	select {
	case c.send <- m:
	default:
		c.closeWith(websocket.CloseInternalServerErr, "client too slow")
	}
}

// closeWith sends a close frame once and tears the connection down.
func (c *wsClient) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		c.conn.Close()
		close(c.done)
	})
}

// readLoop consumes client frames: pongs extend the read deadline,
// filter messages narrow the subscription, anything else is ignored.
func (c *wsClient) readLoop(sub *events.Subscription) {
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.closeWith(websocket.CloseNormalClosure, "")
			return
		}
		var in wsInbound
		if json.Unmarshal(payload, &in) == nil && in.Filter != nil {
			sub.SetFilter(*in.Filter)
		}
	}
}

// pumpLoop moves bus events into the bounded outbound queue.
func (c *wsClient) pumpLoop(sub *events.Subscription) {
	for {
		select {
		case <-c.done:
			return
		case a, ok := <-sub.C():
			if !ok {
				c.closeWith(websocket.CloseGoingAway, "stream closed")
				return
			}
			c.enqueue(wsMessage{Type: "alert", Data: a})
		}
	}
}

// writeLoop owns the connection's write side: outbound frames plus the
// ping schedule.
func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case m := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(m); err != nil {
				c.closeWith(websocket.CloseNormalClosure, "")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.closeWith(websocket.CloseNormalClosure, "")
				return
			}
		}
	}
}
