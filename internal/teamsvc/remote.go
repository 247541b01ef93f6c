package teamsvc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/host"
	"github.com/daap14/teamsync/internal/protocol"
	"github.com/daap14/teamsync/internal/team"
)

// HandlePacket applies a packet received from another process. It only
// touches local state: cached rows are reloaded from the store and players
// connected here are notified. Failures are logged; the periodic refresh
// catches whatever is missed.
func (s *Service) HandlePacket(ctx context.Context, p protocol.Packet) {
	switch p := p.(type) {
	case protocol.InvitePacket:
		s.handleInvite(ctx, p)
	case protocol.PresencePacket:
		s.handlePresence(ctx, p)
	case protocol.ChatPacket:
		s.handleChat(ctx, p)
	case protocol.MembershipPacket:
		s.handleMembership(ctx, p)
	case protocol.HomeTeleportPacket:
		if p.TargetServer == s.cfg.ServerID {
			s.queueTeleport(ctx, p)
		}
	default:
		slog.Debug("ignoring packet", "kind", p.Kind(), "origin", p.Source())
	}
}

func (s *Service) handleInvite(ctx context.Context, p protocol.InvitePacket) {
	if err := s.backfillInvites(ctx, p.InviteeID); err != nil {
		slog.Warn("invite backfill failed", "invitee", p.InviteeID, "error", err)
	}

	switch p.Type {
	case protocol.InviteSent:
		s.notifyLocal(p.InviteeID, host.Notice{
			Code: host.NoticeInviteReceived,
			Args: args("team", p.TeamName, "inviter", p.InviterName, "competing", formatBool(s.hasCompetingInvite(ctx, p))),
		})
	case protocol.InviteAccepted:
		s.notifyLocal(p.InviterID, host.Notice{Code: host.NoticeInviteAccepted, Args: args("player", p.InviteeName, "team", p.TeamName)})
	case protocol.InviteDenied:
		s.notifyLocal(p.InviterID, host.Notice{Code: host.NoticeInviteDenied, Args: args("player", p.InviteeName, "team", p.TeamName)})
	case protocol.InviteExpired:
		s.notifyLocal(p.InviteeID, host.Notice{Code: host.NoticeInviteExpired, Args: args("team", p.TeamName)})
	case protocol.InviteCancelled:
		s.notifyLocal(p.InviteeID, host.Notice{Code: host.NoticeInviteCancelled, Args: args("team", p.TeamName)})
	}
	if s.presence.IsLocal(p.InviteeID) {
		s.host.RefreshView(p.InviteeID)
	}
}

func (s *Service) hasCompetingInvite(ctx context.Context, p protocol.InvitePacket) bool {
	var competing bool
	_ = s.loop.Do(ctx, func() {
		competing = s.cache.Invites().HasInviteFromOtherTeam(p.InviteeID, p.TeamID, s.clock.Now())
	})
	return competing
}

// backfillInvites reloads one invitee's invites from the store.
func (s *Service) backfillInvites(ctx context.Context, invitee uuid.UUID) error {
	s.saveMu.RLock()
	defer s.saveMu.RUnlock()

	var gen uint64
	if err := s.loop.Do(ctx, func() { gen = s.cache.Generation() }); err != nil {
		return err
	}
	invites, err := s.repo.LoadInvitesFor(ctx, invitee)
	if err != nil {
		return err
	}
	return s.loop.Do(ctx, func() { s.cache.ApplyInvites(invitee, invites, gen) })
}

func (s *Service) handlePresence(ctx context.Context, p protocol.PresencePacket) {
	code := host.NoticeTeammateOnline
	if p.Type == protocol.PresenceOffline {
		code = host.NoticeTeammateOffline
	}

	var t *team.Team
	_ = s.loop.Do(ctx, func() { t, _ = s.cache.TeamOf(p.PlayerID) })
	if t == nil {
		return
	}
	for _, n := range s.localNotices(t, host.Notice{Code: code, Args: args("player", p.PlayerName, "server", p.ServerID)}, p.PlayerID) {
		s.host.Notify(n.player, n.n)
		s.host.RefreshView(n.player)
	}
}

func (s *Service) handleChat(ctx context.Context, p protocol.ChatPacket) {
	if err := s.ensureTeam(ctx, p.TeamID); err != nil {
		slog.Warn("chat relay: team lookup failed", "team", p.TeamID, "error", err)
	}

	var t *team.Team
	_ = s.loop.Do(ctx, func() { t, _ = s.cache.Team(p.TeamID) })
	if t == nil {
		return
	}
	s.notifyLocalMembers(t, chatNotice(p.SenderName, p.Message), p.SenderID)
}

func (s *Service) handleMembership(ctx context.Context, p protocol.MembershipPacket) {
	if p.Type == protocol.TeamDisbanded {
		var t *team.Team
		_ = s.loop.Do(ctx, func() {
			t, _, _ = s.cache.RemoveTeam(p.TeamID)
		})
		if t != nil {
			for _, n := range s.localNotices(t, host.Notice{Code: host.NoticeTeamDisbanded, Args: args("team", p.TeamName)}) {
				s.host.Notify(n.player, n.n)
				s.host.RefreshView(n.player)
			}
		}
		return
	}

	if err := s.ensureFreshTeam(ctx, p.TeamID); err != nil {
		if !errors.Is(err, team.ErrTeamNotFound) {
			slog.Warn("team invalidation failed", "team", p.TeamID, "type", p.Type, "error", err)
		}
	}

	var t *team.Team
	_ = s.loop.Do(ctx, func() {
		switch p.Type {
		case protocol.MemberLeft, protocol.MemberKicked:
			if id, ok := s.cache.TeamIDOf(p.TargetID); ok && id == p.TeamID {
				s.cache.ForgetMember(p.TargetID)
			}
		}
		t, _ = s.cache.Team(p.TeamID)
	})

	if p.Type == protocol.MemberJoined {
		// The joiner's invites were dropped along with the join.
		if err := s.backfillInvites(ctx, p.TargetID); err != nil {
			slog.Warn("invite backfill failed", "invitee", p.TargetID, "error", err)
		}
	}
	if t == nil {
		return
	}

	var n host.Notice
	switch p.Type {
	case protocol.MemberJoined:
		n = host.Notice{Code: host.NoticeMemberJoined, Args: args("team", t.Name, "player", p.TargetName)}
	case protocol.MemberLeft:
		n = host.Notice{Code: host.NoticeMemberLeft, Args: args("team", t.Name, "player", p.TargetName)}
	case protocol.MemberKicked:
		n = host.Notice{Code: host.NoticeMemberKicked, Args: args("team", t.Name, "player", p.TargetName)}
	case protocol.TeamRenamed:
		n = host.Notice{Code: host.NoticeTeamRenamed, Args: args("team", t.Name)}
	case protocol.OwnerTransferred:
		n = host.Notice{Code: host.NoticeOwnerTransferred, Args: args("team", t.Name, "owner", p.TargetName)}
	default:
		return
	}

	notices := s.localNotices(t, n)
	if p.Type == protocol.MemberKicked && s.presence.IsLocal(p.TargetID) {
		notices = append(notices, notice{player: p.TargetID, n: n})
	}
	for _, ln := range notices {
		s.host.Notify(ln.player, ln.n)
		s.host.RefreshView(ln.player)
	}
}

func (s *Service) notifyLocal(player uuid.UUID, n host.Notice) {
	if s.presence.IsLocal(player) {
		s.host.Notify(player, n)
	}
}
