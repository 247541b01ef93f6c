package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/teamsync/internal/api/handler"
	"github.com/daap14/teamsync/internal/teamsvc"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type statsSource struct {
	stats teamsvc.Stats
	err   error
}

func (s statsSource) Stats(context.Context) (teamsvc.Stats, error) { return s.stats, s.err }

type dropCounter uint64

func (d dropCounter) Dropped() uint64 { return uint64(d) }

func TestHealth(t *testing.T) {
	down := errors.New("connection refused")
	tests := []struct {
		name       string
		store      handler.Pinger
		broker     handler.Pinger
		wantStatus int
		wantState  string
	}{
		{"healthy", pinger{}, pinger{}, http.StatusOK, "healthy"},
		{"broker down", pinger{}, pinger{err: down}, http.StatusOK, "degraded"},
		{"store down", pinger{err: down}, pinger{}, http.StatusServiceUnavailable, "unhealthy"},
		{"no broker", pinger{}, nil, http.StatusOK, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handler.NewHealthHandler(handler.HealthDeps{
				Store:    tt.store,
				Broker:   tt.broker,
				ServerID: "lobby-1",
				Version:  "1.2.3",
			})
			req, w := makeChiRequest(http.MethodGet, "/health", nil, nil)

			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			data := parseEnvelope(t, w)["data"].(map[string]interface{})
			assert.Equal(t, tt.wantState, data["status"])
			assert.Equal(t, "lobby-1", data["serverId"])
			assert.Equal(t, "1.2.3", data["version"])
			require.Contains(t, data, "broker")
			assert.NotContains(t, data, "sync")
		})
	}
}

func TestHealth_ReportsSyncStats(t *testing.T) {
	h := handler.NewHealthHandler(handler.HealthDeps{
		Store:  pinger{},
		Broker: pinger{},
		Stats: statsSource{stats: teamsvc.Stats{
			Teams:            3,
			LocalPlayers:     7,
			PendingTeleports: 1,
			LastRefresh:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}},
		Bus: dropCounter(4),
	})
	req, w := makeChiRequest(http.MethodGet, "/health", nil, nil)

	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	sync := parseEnvelope(t, w)["data"].(map[string]interface{})["sync"].(map[string]interface{})
	assert.Equal(t, float64(3), sync["teams"])
	assert.Equal(t, float64(7), sync["localPlayers"])
	assert.Equal(t, float64(1), sync["pendingTeleports"])
	assert.Equal(t, float64(4), sync["droppedPackets"])
	assert.Equal(t, "2026-03-01T12:00:00Z", sync["lastRefresh"])
}

func TestHealth_OmitsSyncWhenStatsFail(t *testing.T) {
	h := handler.NewHealthHandler(handler.HealthDeps{
		Store:  pinger{},
		Broker: pinger{},
		Stats:  statsSource{err: errors.New("mutator loop stopped")},
	})
	req, w := makeChiRequest(http.MethodGet, "/health", nil, nil)

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, parseEnvelope(t, w)["data"], "sync")
}
