// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"

	"github.com/jskoetsier/nzbindexer/internal/logging"
	"github.com/jskoetsier/nzbindexer/internal/promote"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Hub fans promoted-release events out to connected websocket clients. It
// consumes the in-process event bus, so the admin UI sees promotions live
// without polling the releases table.
type Hub struct {
	subscriber message.Subscriber

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	running bool
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewHub creates a hub over a watermill subscriber.
func NewHub(subscriber message.Subscriber) *Hub {
	return &Hub{
		subscriber: subscriber,
		clients:    make(map[*websocket.Conn]chan []byte),
	}
}

// Start begins consuming the release topic.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	msgs, err := h.subscriber.Subscribe(runCtx, promote.TopicReleasePromoted)
	if err != nil {
		cancel()
		return err
	}
	h.running = true
	h.stop = cancel
	h.wg.Add(1)
	go h.pump(msgs)
	return nil
}

// Stop disconnects all clients and stops consuming.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.stop()
	for conn, ch := range h.clients {
		close(ch)
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) pump(msgs <-chan *message.Message) {
	defer h.wg.Done()
	for msg := range msgs {
		h.broadcast(msg.Payload)
		msg.Ack()
	}
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- payload:
		default:
			// Slow consumer: drop it rather than stall the pipeline feed.
			close(ch)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The admin surface is same-host or reverse-proxied; CORS on the API
	// routes gates cross-origin callers.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleWS upgrades the connection and streams release events until the
// client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[conn]; ok {
			close(ch)
			delete(h.clients, conn)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Reader goroutine: only to detect client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
