package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daap14/teamsync/internal/api/middleware"
	"github.com/daap14/teamsync/internal/api/response"
	"github.com/daap14/teamsync/internal/host"
)

const (
	feedClientBuffer = 64
	feedWriteTimeout = 5 * time.Second
	feedReadTimeout  = 60 * time.Second
	feedPingEvery    = 30 * time.Second
)

// FeedEvent is one player notice as streamed on /events/ws.
type FeedEvent struct {
	Player string            `json:"player"`
	Code   string            `json:"code"`
	Args   map[string]string `json:"args,omitempty"`
	At     string            `json:"at"`
}

type feedClient struct {
	player uuid.UUID
	send   chan []byte
}

// FeedHub fans player notices out to websocket clients. A client may
// restrict the stream to one player with ?player=<uuid>. Slow clients lose
// events rather than stalling the notifier.
type FeedHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool

	dropped atomic.Uint64
}

// NewFeedHub creates an empty FeedHub.
func NewFeedHub() *FeedHub {
	return &FeedHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// Notify queues n for every client following player. It never blocks.
func (h *FeedHub) Notify(player uuid.UUID, n host.Notice) {
	b, err := json.Marshal(FeedEvent{
		Player: player.String(),
		Code:   n.Code,
		Args:   n.Args,
		At:     time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Error("failed to encode feed event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.player != uuid.Nil && c.player != player {
			continue
		}
		select {
		case c.send <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients.
func (h *FeedHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded for slow clients.
func (h *FeedHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client and refuses new ones.
func (h *FeedHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *FeedHub) register(c *feedClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *FeedHub) unregister(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP handles GET /events/ws.
func (h *FeedHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var player uuid.UUID
	if raw := r.URL.Query().Get("player"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Err(w, http.StatusBadRequest, "INVALID_ID", "player must be a valid UUID", requestID)
			return
		}
		player = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("feed upgrade failed", "error", err, "requestId", requestID)
		return
	}
	defer conn.Close()

	c := &feedClient{player: player, send: make(chan []byte, feedClientBuffer)}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		return
	}
	defer h.unregister(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		ping := time.NewTicker(feedPingEvery)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-c.send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
					_ = conn.Close()
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					_ = conn.Close()
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteTimeout)); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	// Clients only send control frames; the read loop keeps pongs flowing
	// and notices the disconnect.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	select {
	case <-writeDone:
	case <-time.After(500 * time.Millisecond):
	}
}
