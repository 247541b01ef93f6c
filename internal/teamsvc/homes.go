package teamsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/host"
	"github.com/daap14/teamsync/internal/protocol"
	"github.com/daap14/teamsync/internal/team"
)

// TeleportResult says how a home teleport was carried out.
type TeleportResult string

const (
	// TeleportLocal means the player was moved on this process.
	TeleportLocal TeleportResult = "local"
	// TeleportHandedOff means the home lives on another process, which was
	// asked to finish the teleport once the player arrives.
	TeleportHandedOff TeleportResult = "handed-off"
	// TeleportManual means the home lives on another process but the host
	// cannot move players between processes; the player was told to switch
	// by hand and the teleport runs when it arrives.
	TeleportManual TeleportResult = "manual"
)

type teleportRequest struct {
	teamID    uuid.UUID
	homeKey   string
	requestID uuid.UUID
	expiresAt time.Time
}

// SetHome records a home at loc for the actor's team, replacing any home
// with the same normalized name. Only the owner may set homes.
func (s *Service) SetHome(ctx context.Context, actor team.Player, name string, loc host.Location) (team.Home, error) {
	display, err := validateName(name)
	if err != nil {
		return team.Home{}, err
	}
	key := team.NormalizeHomeKey(display)

	s.syncBeforeWrite(ctx, actor.ID)

	var saved team.Home
	err = s.mutate(ctx, func(now time.Time) (change, error) {
		t, err := s.ownedTeam(actor.ID)
		if err != nil {
			return change{}, err
		}
		if _, exists := s.cache.Home(t.ID, key); !exists && s.cache.HomeCount(t.ID) >= s.cfg.MaxHomes {
			return change{}, ErrHomeLimit
		}

		saved = team.Home{
			TeamID:      t.ID,
			Key:         key,
			DisplayName: display,
			World:       loc.World,
			X:           loc.X,
			Y:           loc.Y,
			Z:           loc.Z,
			Yaw:         loc.Yaw,
			Pitch:       loc.Pitch,
			ServerID:    s.cfg.ServerID,
			CreatedAt:   now,
			CreatedBy:   actor.ID,
		}
		s.cache.PutHome(saved)
		return change{scope: team.Scope{Teams: []uuid.UUID{t.ID}}}, nil
	})
	if err != nil {
		return team.Home{}, err
	}
	return saved, nil
}

// DeleteHome removes a home from the actor's team. Only the owner may
// delete homes.
func (s *Service) DeleteHome(ctx context.Context, actor team.Player, name string) error {
	key := team.NormalizeHomeKey(name)
	s.syncBeforeWrite(ctx, actor.ID)
	return s.mutate(ctx, func(time.Time) (change, error) {
		t, err := s.ownedTeam(actor.ID)
		if err != nil {
			return change{}, err
		}
		if !s.cache.RemoveHome(t.ID, key) {
			return change{}, ErrHomeNotFound
		}
		return change{scope: team.Scope{Teams: []uuid.UUID{t.ID}}}, nil
	})
}

// Homes lists the homes of player's team.
func (s *Service) Homes(ctx context.Context, player uuid.UUID) ([]team.Home, error) {
	var (
		homes []team.Home
		found bool
	)
	err := s.loop.Do(ctx, func() {
		id, ok := s.cache.TeamIDOf(player)
		if !ok {
			return
		}
		found = true
		homes = s.cache.Homes(id)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotInTeam
	}
	return homes, nil
}

// TeleportHome sends player to one of its team's homes. Homes recorded on
// another process are handed off to it and the player is transferred there.
func (s *Service) TeleportHome(ctx context.Context, player team.Player, name string) (TeleportResult, error) {
	key := team.NormalizeHomeKey(name)

	var (
		home  team.Home
		opErr error
	)
	err := s.loop.Do(ctx, func() {
		id, ok := s.cache.TeamIDOf(player.ID)
		if !ok {
			opErr = ErrNotInTeam
			return
		}
		h, ok := s.cache.Home(id, key)
		if !ok {
			opErr = ErrHomeNotFound
			return
		}
		home = h
	})
	if err != nil {
		return "", err
	}
	if opErr != nil {
		return "", opErr
	}

	if home.ServerID == "" || home.ServerID == s.cfg.ServerID {
		if err := s.host.Teleport(ctx, player.ID, locationOf(home)); err != nil {
			return "", fmt.Errorf("teleporting to home %q: %w", home.Key, err)
		}
		return TeleportLocal, nil
	}

	s.pub.Publish(protocol.HomeTeleportPacket{
		Origin:       s.cfg.ServerID,
		TargetServer: home.ServerID,
		TeamID:       home.TeamID,
		HomeKey:      home.Key,
		HomeDisplay:  home.DisplayName,
		PlayerID:     player.ID,
		PlayerName:   player.Name,
		RequestID:    uuid.New(),
		AtMs:         protocol.Millis(s.clock.Now()),
	})

	result := TeleportHandedOff
	if !s.host.CanTransfer() {
		result = TeleportManual
	}
	err = s.host.Transfer(ctx, player.ID, home.ServerID)
	if err != nil && !errors.Is(err, host.ErrUnsupported) {
		return "", fmt.Errorf("transferring to %s: %w", home.ServerID, err)
	}
	return result, nil
}

// queueTeleport stores a teleport handed off by another process. It runs
// immediately if the player is already here.
func (s *Service) queueTeleport(ctx context.Context, p protocol.HomeTeleportPacket) {
	now := s.clock.Now()
	queued := s.loop.Post(func() {
		for id, req := range s.pending {
			if !now.Before(req.expiresAt) {
				delete(s.pending, id)
			}
		}
		s.pending[p.PlayerID] = teleportRequest{
			teamID:    p.TeamID,
			homeKey:   p.HomeKey,
			requestID: p.RequestID,
			expiresAt: now.Add(s.cfg.TeleportRequestTTL),
		}
	})
	if !queued {
		slog.Warn("teleport handoff dropped", "player", p.PlayerID, "request", p.RequestID)
		return
	}
	if s.presence.IsLocal(p.PlayerID) {
		s.runPendingTeleport(ctx, p.PlayerID)
	}
}

func (s *Service) runPendingTeleport(ctx context.Context, player uuid.UUID) {
	var (
		req   teleportRequest
		found bool
	)
	now := s.clock.Now()
	_ = s.loop.Do(ctx, func() {
		req, found = s.pending[player]
		delete(s.pending, player)
	})
	if !found || !now.Before(req.expiresAt) {
		return
	}

	home, ok := s.lookupHome(ctx, player, req)
	if !ok {
		if err := s.ensureFreshTeam(ctx, req.teamID); err != nil {
			slog.Warn("teleport handoff: team reload failed", "team", req.teamID, "error", err)
		}
		home, ok = s.lookupHome(ctx, player, req)
	}
	if !ok {
		slog.Info("teleport handoff: home no longer available", "player", player, "home", req.homeKey, "request", req.requestID)
		return
	}

	if err := s.host.Teleport(ctx, player, locationOf(home)); err != nil {
		slog.Warn("teleport handoff failed", "player", player, "request", req.requestID, "error", err)
		return
	}
	s.host.Notify(player, host.Notice{Code: host.NoticeTeleportCompleted, Args: args("home", home.DisplayName)})
}

func (s *Service) lookupHome(ctx context.Context, player uuid.UUID, req teleportRequest) (team.Home, bool) {
	var (
		home team.Home
		ok   bool
	)
	_ = s.loop.Do(ctx, func() {
		if id, member := s.cache.TeamIDOf(player); !member || id != req.teamID {
			return
		}
		home, ok = s.cache.Home(req.teamID, req.homeKey)
	})
	return home, ok
}

func (s *Service) ensureFreshTeam(ctx context.Context, teamID uuid.UUID) error {
	s.saveMu.RLock()
	defer s.saveMu.RUnlock()

	var gen uint64
	if err := s.loop.Do(ctx, func() { gen = s.cache.Generation() }); err != nil {
		return err
	}
	return s.refreshTeam(ctx, teamID, gen)
}

func locationOf(h team.Home) host.Location {
	return host.Location{World: h.World, X: h.X, Y: h.Y, Z: h.Z, Yaw: h.Yaw, Pitch: h.Pitch}
}
