package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"binance-decision-core/internal/events"
	"binance-decision-core/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

// wsClient is one connected event stream
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *EventHub
	symbol string // empty receives every symbol
}

// EventHub pushes bus events to connected WebSocket clients as they happen
type EventHub struct {
	clients map[*wsClient]struct{}
	mu      sync.Mutex
	logger  *logging.Logger
}

// NewEventHub creates an empty hub
func NewEventHub(logger *logging.Logger) *EventHub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &EventHub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

// Attach subscribes the hub to every event on the bus
func (h *EventHub) Attach(bus *events.EventBus) {
	bus.SubscribeAll(h.Broadcast)
}

// Broadcast sends an event to every matching client. Events without a symbol
// go to all clients. A client whose buffer is full is dropped.
func (h *EventHub) Broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("Failed to marshal event", "type", string(event.Type), "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.symbol != "" && event.Symbol != "" && c.symbol != event.Symbol {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Event stream client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *EventHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) remove(c *wsClient) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// removeLocked requires h.mu
func (h *EventHub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("Event stream write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; clients never send data
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("Event stream read failed", "error", err)
			}
			return
		}
	}
}

// newUpgrader accepts same-host requests and the configured CORS origins
func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || strings.HasSuffix(origin, "://"+r.Host) {
				return true
			}
			for _, a := range allowed {
				if a == "*" || a == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleEventStream upgrades to a WebSocket and streams live bus events.
// ?symbol= narrows the stream to one symbol plus global events.
func (s *Server) handleEventStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade event stream", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		hub:    s.hub,
		symbol: strings.ToUpper(c.Query("symbol")),
	}
	welcome, _ := json.Marshal(gin.H{
		"type":      "CONNECTED",
		"symbol":    client.symbol,
		"timestamp": time.Now(),
	})
	client.send <- welcome
	s.hub.add(client)

	go client.writePump()
	go client.readPump()
}
