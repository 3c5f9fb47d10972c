// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/luxfi/clob-indexer/model"
)

// Message is one frame of the live feed.
type Message struct {
	Type  string `json:"type"`
	Block uint64 `json:"block,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Hub fans committed events out to websocket clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Message
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	heartbeat  time.Duration
	writeWait  time.Duration
	logger     *zap.Logger
}

// NewHub creates a hub. Run must be called for it to deliver anything.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		heartbeat:  30 * time.Second,
		writeWait:  10 * time.Second,
		logger:     logger,
	}
}

// Run delivers messages until ctx is cancelled. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.Close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				c.Close()
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.send(msg)
		case <-heartbeat.C:
			h.send(Message{Type: "heartbeat"})
		}
	}
}

func (h *Hub) send(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		// a client that stops reading is dropped instead of stalling Run
		_ = c.SetWriteDeadline(time.Now().Add(h.writeWait))
		if err := c.WriteJSON(msg); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			go h.leave(c)
		}
	}
}

// join and leave hand a connection to Run, or close it once Run has
// returned.
func (h *Hub) join(c *websocket.Conn) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) leave(c *websocket.Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.Close()
	}
}

// HandleWebSocket upgrades a request and subscribes it to the feed.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	if err := conn.WriteJSON(Message{Type: "connected"}); err != nil {
		conn.Close()
		return
	}
	h.join(conn)
	go func() {
		defer h.leave(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Publish queues an event for delivery. Events are dropped when the
// queue is full so indexing never waits on slow clients.
func (h *Hub) Publish(block uint64, ev model.Event) {
	select {
	case h.broadcast <- Message{Type: string(ev.Kind()), Block: block, Data: ev}:
	default:
		h.logger.Warn("live feed queue full, dropping event",
			zap.String("event", string(ev.Kind())),
			zap.Uint64("block", block))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
