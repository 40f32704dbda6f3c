package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"whatsapp-campaigns/internal/events"
	"whatsapp-campaigns/internal/logging"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from another origin
	},
}

// ErrBacklog is returned when the hub cannot keep up with published events.
var ErrBacklog = errors.New("websocket hub backlog full")

// Client represents a connected dashboard; it only receives events for its business.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	businessID uint
}

type envelope struct {
	businessID uint
	payload    []byte
}

// Hub maintains the set of active clients and broadcasts campaign events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		log:        log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("websocket client registered", "business_id", client.businessID)
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("websocket client unregistered", "business_id", client.businessID)
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.businessID != msg.businessID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues an event for the dashboards of its business without blocking.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- envelope{businessID: ev.BusinessID, payload: payload}:
		return nil
	default:
		return ErrBacklog
	}
}

// Clients reports the number of connected dashboards.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, businessID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), businessID: businessID}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		// dashboards do not send anything; reading detects disconnects
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
