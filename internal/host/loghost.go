package host

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// LogHost is the Host used by the standalone server. It logs every call,
// remembers player names it is told about and forwards notices to an
// optional sink.
type LogHost struct {
	sink func(player uuid.UUID, n Notice)

	mu    sync.RWMutex
	names map[uuid.UUID]string
}

// NewLogHost creates a LogHost. sink may be nil.
func NewLogHost(sink func(player uuid.UUID, n Notice)) *LogHost {
	return &LogHost{sink: sink, names: make(map[uuid.UUID]string)}
}

// Notify logs n and forwards it to the sink.
func (h *LogHost) Notify(player uuid.UUID, n Notice) {
	slog.Debug("host: notice", "player", player, "code", n.Code, "args", n.Args)
	if h.sink != nil {
		h.sink(player, n)
	}
}

// Teleport logs the request.
func (h *LogHost) Teleport(_ context.Context, player uuid.UUID, loc Location) error {
	slog.Info("host: teleport", "player", player, "world", loc.World, "x", loc.X, "y", loc.Y, "z", loc.Z)
	return nil
}

// Remember records a player's display name.
func (h *LogHost) Remember(player uuid.UUID, name string) {
	h.mu.Lock()
	h.names[player] = name
	h.mu.Unlock()
}

// PlayerName returns a remembered display name.
func (h *LogHost) PlayerName(player uuid.UUID) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	name, ok := h.names[player]
	return name, ok
}
