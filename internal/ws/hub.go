// Package ws keeps live websocket clients per user and fans events out to them.
package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chat_service/internal/models"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	sendBuffer   = 64
	pingInterval = 25 * time.Second
	writeTimeout = 10 * time.Second
)

type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan models.Event

	ctx    context.Context
	cancel context.CancelFunc
}

type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: map[string]map[*Client]struct{}{},
	}
}

// * AddClient registers conn for userID and starts its writer and keep-alive loops.
func (h *Hub) AddClient(userID string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan models.Event, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = map[*Client]struct{}{}
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	go c.keepAliveLoop()

	return c
}

func (h *Hub) RemoveClient(c *Client) {
	c.cancel()

	h.mu.Lock()
	if set, ok := h.clients[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID)
		}
	}
	h.mu.Unlock()

	_ = c.Conn.Close(websocket.StatusNormalClosure, "bye")
}

// * Broadcast queues ev for every connection of the given users.
// A client whose buffer is full misses the event.
func (h *Hub) Broadcast(userIDs []string, ev models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, uid := range userIDs {
		for c := range h.clients[uid] {
			select {
			case c.Send <- ev:
			default:
				h.log.Warn("ws client buffer full, dropping event",
					slog.String("user_id", uid),
					slog.String("type", ev.Type),
				)
			}
		}
	}
}

// Connected reports how many live connections userID has.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}

// * Close drops every client, used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		h.RemoveClient(c)
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.Send:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.Conn, ev)
			cancel()

			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			_ = c.Conn.Ping(pingCtx)
			cancel()
		}
	}
}

// Done is closed once the client stops writing.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}
