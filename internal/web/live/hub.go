// Package live pushes new comments to browsers that have an announcement
// page open.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/markup"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

// MessageType identifies a message sent over the socket
type MessageType string

const (
	MessageConnected MessageType = "connected"
	MessageComment   MessageType = "comment"
)

// Message is the JSON envelope written to clients
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// CommentPayload is a new comment as the announcement page renders it
type CommentPayload struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

type client struct {
	id             string
	announcementID int64
	send           chan []byte
}

type broadcast struct {
	announcementID int64
	data           []byte
}

// Hub tracks the open sockets per announcement and fans comments out to them
type Hub struct {
	clients      map[string]*client
	register     chan *client
	unregister   chan *client
	broadcast    chan broadcast
	done         chan struct{}
	stopOnce     sync.Once
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	mu           sync.RWMutex
}

// NewHub creates a hub and starts its loop. Idle sockets are pinged every
// pingInterval.
func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	h := &Hub{
		clients:      make(map[string]*client),
		register:     make(chan *client),
		unregister:   make(chan *client),
		broadcast:    make(chan broadcast, 100),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*client)
			h.mu.Unlock()
			log.Debug().Msg("Live comment hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			total := len(h.clients)
			h.mu.Unlock()
			log.Debug().Str("client_id", c.id).Int64("announcement", c.announcementID).Int("total_clients", total).Msg("Live client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Debug().Str("client_id", c.id).Int("total_clients", total).Msg("Live client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				if c.announcementID != msg.announcementID {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					log.Warn().Str("client_id", c.id).Msg("Live client buffer full, dropping message")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish sends a new comment to everyone viewing its announcement
func (h *Hub) Publish(announcementID int64, comment *database.Comment) {
	data, err := json.Marshal(Message{
		Type: MessageComment,
		Data: CommentPayload{
			ID:        comment.ID,
			Username:  comment.Username,
			HTML:      string(markup.Linkify(comment.Comment)),
			CreatedAt: comment.CreatedAt,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal live comment")
		return
	}

	select {
	case h.broadcast <- broadcast{announcementID: announcementID, data: data}:
	default:
		log.Warn().Int64("announcement", announcementID).Msg("Live broadcast channel full, dropping comment")
	}
}

// ClientCount returns how many sockets are open for an announcement
func (h *Hub) ClientCount(announcementID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.announcementID == announcementID {
			n++
		}
	}
	return n
}

// Stop closes every socket and ends the hub loop
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Serve upgrades the request to a websocket subscribed to announcementID and
// blocks until the socket closes
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, announcementID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{
		id:             uuid.NewString(),
		announcementID: announcementID,
		send:           make(chan []byte, 32),
	}

	hello, _ := json.Marshal(Message{
		Type: MessageConnected,
		Data: map[string]any{"client_id": c.id, "time": time.Now().Unix()},
	})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		_ = conn.Close()
		return
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.readLoop(conn, c)
	h.writeLoop(conn, c)
}

// readLoop discards client messages and keeps the read deadline alive on
// pongs. It unregisters the client once the socket fails.
func (h *Hub) readLoop(conn *websocket.Conn, c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client_id", c.id).Msg("Live client read error")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
