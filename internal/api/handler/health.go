package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/daap14/teamsync/internal/api/middleware"
	"github.com/daap14/teamsync/internal/api/response"
	"github.com/daap14/teamsync/internal/teamsvc"
)

const healthCheckTimeout = 2 * time.Second

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource reports the team service's counters.
type StatsSource interface {
	Stats(ctx context.Context) (teamsvc.Stats, error)
}

// DropCounter reports how many outbound packets were discarded.
type DropCounter interface {
	Dropped() uint64
}

// HealthDeps are the collaborators of a HealthHandler. Stats and Bus are
// optional.
type HealthDeps struct {
	Store    Pinger
	Broker   Pinger
	Stats    StatsSource
	Bus      DropCounter
	ServerID string
	Version  string
}

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	deps HealthDeps
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(deps HealthDeps) *HealthHandler {
	return &HealthHandler{deps: deps}
}

type dependencyStatus struct {
	Connected bool `json:"connected"`
}

type syncStatus struct {
	Teams            int     `json:"teams"`
	LocalPlayers     int     `json:"localPlayers"`
	PendingTeleports int     `json:"pendingTeleports"`
	LastRefresh      *string `json:"lastRefresh"`
	DroppedPackets   uint64  `json:"droppedPackets"`
}

type healthData struct {
	Status   string           `json:"status"`
	Version  string           `json:"version"`
	ServerID string           `json:"serverId"`
	Store    dependencyStatus `json:"store"`
	Broker   dependencyStatus `json:"broker"`
	Sync     *syncStatus      `json:"sync,omitempty"`
}

func ping(ctx context.Context, name string, p Pinger) bool {
	if p == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		slog.Warn("health check failed", "dependency", name, "error", err)
		return false
	}
	return true
}

// ServeHTTP handles the health check request. A broker outage only
// degrades the process; an unreachable store makes it unhealthy.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	data := healthData{
		Status:   "healthy",
		Version:  h.deps.Version,
		ServerID: h.deps.ServerID,
		Store:    dependencyStatus{Connected: ping(r.Context(), "store", h.deps.Store)},
		Broker:   dependencyStatus{Connected: ping(r.Context(), "broker", h.deps.Broker)},
		Sync:     h.syncStatus(r.Context()),
	}

	status := http.StatusOK
	switch {
	case !data.Store.Connected:
		data.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case !data.Broker.Connected:
		data.Status = "degraded"
	}

	response.Success(w, status, data, requestID)
}

func (h *HealthHandler) syncStatus(ctx context.Context) *syncStatus {
	if h.deps.Stats == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	st, err := h.deps.Stats.Stats(ctx)
	if err != nil {
		slog.Warn("health check: reading sync stats failed", "error", err)
		return nil
	}

	out := &syncStatus{
		Teams:            st.Teams,
		LocalPlayers:     st.LocalPlayers,
		PendingTeleports: st.PendingTeleports,
	}
	if !st.LastRefresh.IsZero() {
		ts := st.LastRefresh.UTC().Format(timeFormat)
		out.LastRefresh = &ts
	}
	if h.deps.Bus != nil {
		out.DroppedPackets = h.deps.Bus.Dropped()
	}
	return out
}
