package teamsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/host"
	"github.com/daap14/teamsync/internal/team"
)

// Load reads the full snapshot into the cache. It is meant for startup and
// fails loudly when the store is unreachable.
func (s *Service) Load(ctx context.Context) error {
	swapped, err := s.Refresh(ctx, true)
	if err != nil {
		return err
	}
	if !swapped {
		return errors.New("initial snapshot was not applied")
	}
	return nil
}

// Refresh reloads the full snapshot and swaps it into the cache. Unless
// force is set it does nothing when a refresh started within the TTL. The
// result is discarded if the cache changed while the store was being read.
func (s *Service) Refresh(ctx context.Context, force bool) (bool, error) {
	began := s.guard.TryBegin
	if force {
		began = s.guard.Force
	}
	if !began() {
		return false, nil
	}
	defer s.guard.End()

	s.saveMu.RLock()
	defer s.saveMu.RUnlock()

	var gen uint64
	if err := s.loop.Do(ctx, func() { gen = s.cache.Generation() }); err != nil {
		return false, err
	}

	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("loading snapshot: %w", err)
	}

	var swapped bool
	if err := s.loop.Do(ctx, func() { swapped = s.cache.Replace(snap, gen) }); err != nil {
		return false, err
	}
	if swapped {
		slog.Debug("snapshot refreshed", "teams", len(snap.Teams), "invites", len(snap.Invites))
	} else {
		slog.Debug("snapshot discarded; cache changed during load")
	}
	return swapped, nil
}

func logRefreshFailure(err error) {
	slog.Warn("snapshot refresh failed; serving cached state", "error", err)
}

// Backfill reloads one player's team membership and invites from the store
// without a full snapshot.
func (s *Service) Backfill(ctx context.Context, player uuid.UUID) error {
	s.saveMu.RLock()
	defer s.saveMu.RUnlock()

	var gen uint64
	if err := s.loop.Do(ctx, func() { gen = s.cache.Generation() }); err != nil {
		return err
	}

	var (
		t     *team.Team
		homes []team.Home
	)
	teamID, err := s.repo.FindTeamIDByMember(ctx, player)
	switch {
	case errors.Is(err, team.ErrTeamNotFound):
	case err != nil:
		return fmt.Errorf("finding team of %s: %w", player, err)
	default:
		t, homes, err = s.repo.LoadTeam(ctx, teamID)
		if err != nil && !errors.Is(err, team.ErrTeamNotFound) {
			return fmt.Errorf("loading team %s: %w", teamID, err)
		}
	}

	invites, err := s.repo.LoadInvitesFor(ctx, player)
	if err != nil {
		return fmt.Errorf("loading invites of %s: %w", player, err)
	}

	var applied bool
	err = s.loop.Do(ctx, func() {
		if s.cache.Generation() != gen {
			return
		}
		applied = true
		if t != nil {
			s.cache.ApplyTeam(t, homes, s.cache.Generation())
		} else if cached, ok := s.cache.TeamOf(player); ok {
			// The store has no membership for player: the cached team is stale.
			if cached.Owner == player {
				s.cache.DropTeam(cached.ID, s.cache.Generation())
			} else {
				s.cache.ForgetMember(player)
			}
		}
		s.cache.ApplyInvites(player, invites, s.cache.Generation())
	})
	if err != nil {
		return err
	}
	if !applied {
		slog.Debug("backfill discarded; cache changed during load", "player", player)
	}
	return nil
}

// syncBeforeWrite backfills players ahead of a mutation so the rows a
// scoped save rewrites start from what the store holds, including changes
// announced by packets this process never received.
func (s *Service) syncBeforeWrite(ctx context.Context, players ...uuid.UUID) {
	for _, p := range players {
		if err := s.Backfill(ctx, p); err != nil {
			slog.Warn("pre-write backfill failed; using cached state", "player", p, "error", err)
		}
	}
}

// refreshTeam reloads one team, dropping it when the store no longer has
// it. The result is discarded if the cache changed after gen was read. The
// caller holds saveMu for reading.
func (s *Service) refreshTeam(ctx context.Context, teamID uuid.UUID, gen uint64) error {
	t, homes, err := s.repo.LoadTeam(ctx, teamID)
	if errors.Is(err, team.ErrTeamNotFound) {
		if doErr := s.loop.Do(ctx, func() { s.cache.DropTeam(teamID, gen) }); doErr != nil {
			return doErr
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("loading team %s: %w", teamID, err)
	}
	return s.loop.Do(ctx, func() { s.cache.ApplyTeam(t, homes, gen) })
}

// PlayerJoined handles a player connecting to this process: presence is
// claimed, the player's team and invites are backfilled and any teleport
// handed off to this process is carried out.
func (s *Service) PlayerJoined(ctx context.Context, player team.Player) error {
	created, err := s.presence.MarkOnline(ctx, player.ID, player.Name)
	if err != nil {
		slog.Warn("presence claim failed", "player", player.ID, "error", err)
	}

	if err := s.Backfill(ctx, player.ID); err != nil {
		slog.Error("membership backfill failed", "player", player.ID, "error", err)
	}

	if created {
		var t *team.Team
		_ = s.loop.Do(ctx, func() { t, _ = s.cache.TeamOf(player.ID) })
		if t != nil {
			s.notifyLocalMembers(t, host.Notice{Code: host.NoticeTeammateOnline, Args: args("player", player.Name)}, player.ID)
		}
	}

	s.runPendingTeleport(ctx, player.ID)
	return nil
}

// PlayerQuit releases the player's presence after the anti-flicker delay.
// It blocks for that delay and reports whether OFFLINE was published.
func (s *Service) PlayerQuit(ctx context.Context, player team.Player) (bool, error) {
	published, err := s.presence.MarkOffline(ctx, player.ID, player.Name)
	if err != nil {
		return false, fmt.Errorf("releasing presence: %w", err)
	}
	if published {
		var t *team.Team
		_ = s.loop.Do(ctx, func() { t, _ = s.cache.TeamOf(player.ID) })
		if t != nil {
			s.notifyLocalMembers(t, host.Notice{Code: host.NoticeTeammateOffline, Args: args("player", player.Name)}, player.ID)
		}
	}
	return published, nil
}
