package teamsvc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/host"
	"github.com/daap14/teamsync/internal/invite"
	"github.com/daap14/teamsync/internal/protocol"
	"github.com/daap14/teamsync/internal/team"
)

// Invite asks target to join the inviter's team. Only the owner may invite.
// When target is at the invite cap, its invite closest to expiry is evicted.
func (s *Service) Invite(ctx context.Context, inviter team.Player, target uuid.UUID) (invite.Invite, error) {
	s.syncBeforeWrite(ctx, inviter.ID, target)

	var created invite.Invite
	err := s.mutate(ctx, func(now time.Time) (change, error) {
		t, err := s.ownedTeam(inviter.ID)
		if err != nil {
			return change{}, err
		}
		if target == inviter.ID {
			return change{}, ErrSelfTarget
		}
		if _, ok := s.cache.TeamIDOf(target); ok {
			return change{}, ErrAlreadyInTeam
		}
		if len(t.Members) >= s.cfg.MaxMembers {
			return change{}, ErrTeamFull
		}
		ledger := s.cache.Invites()
		if len(t.Members)+len(ledger.OutgoingForTeam(t.ID, now)) >= 2*s.cfg.MaxMembers {
			return change{}, ErrTooManyInvites
		}
		competing := ledger.HasInviteFromOtherTeam(target, t.ID, now)

		inv := invite.Invite{
			InviteeID: target,
			TeamID:    t.ID,
			TeamName:  t.Name,
			InviterID: inviter.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.InviteExpiry),
		}
		evicted, err := ledger.Create(inv, now)
		if evicted != nil {
			s.cache.TouchInvites()
		}
		if err != nil {
			return change{}, err
		}
		s.cache.TouchInvites()
		created = inv

		ch := change{
			scope:   team.Scope{Invitees: []uuid.UUID{target}},
			packets: []protocol.Packet{s.invitePacket(protocol.InviteSent, inv, inviter.Name)},
		}
		if evicted != nil {
			ch.packets = append(ch.packets, s.invitePacket(protocol.InviteExpired, *evicted, s.host.PlayerName(evicted.InviterID)))
		}
		if s.presence.IsLocal(target) {
			ch.notices = append(ch.notices, notice{player: target, n: host.Notice{
				Code: host.NoticeInviteReceived,
				Args: args("team", t.Name, "inviter", inviter.Name, "competing", formatBool(competing)),
			}})
		}
		return ch, nil
	})
	if err != nil {
		return invite.Invite{}, err
	}
	return created, nil
}

// AcceptInvite joins player to the team that invited it. The team is
// reloaded from the store first so the member rows it rewrites are current.
func (s *Service) AcceptInvite(ctx context.Context, player team.Player, teamID uuid.UUID) (*team.Team, error) {
	s.syncBeforeWrite(ctx, player.ID)
	if err := s.ensureFreshTeam(ctx, teamID); err != nil && !errors.Is(err, team.ErrTeamNotFound) {
		return nil, err
	}

	var joined *team.Team
	err := s.mutate(ctx, func(now time.Time) (change, error) {
		ledger := s.cache.Invites()
		inv, ok := ledger.Get(player.ID, teamID, now)
		if !ok {
			return change{}, ErrInviteNotFound
		}
		if _, ok := s.cache.TeamIDOf(player.ID); ok {
			return change{}, ErrAlreadyInTeam
		}
		t, ok := s.cache.Team(teamID)
		if !ok {
			return change{}, team.ErrTeamNotFound
		}
		if len(t.Members) >= s.cfg.MaxMembers {
			return change{}, ErrTeamFull
		}

		t.Members[player.ID] = struct{}{}
		s.cache.PutTeam(t)
		s.dropInvitesOf(player.ID)
		joined = t.Clone()

		return change{
			scope: team.Scope{Teams: []uuid.UUID{t.ID}, Invitees: []uuid.UUID{player.ID}},
			packets: []protocol.Packet{
				s.invitePacket(protocol.InviteAccepted, inv, s.host.PlayerName(inv.InviterID)),
				s.membershipPacket(protocol.MemberJoined, t, player, player.ID, now),
			},
			notices: s.localNotices(t, host.Notice{Code: host.NoticeMemberJoined, Args: args("team", t.Name, "player", player.Name)}),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return joined, nil
}

// DenyInvite discards player's invite from teamID.
func (s *Service) DenyInvite(ctx context.Context, player team.Player, teamID uuid.UUID) error {
	s.syncBeforeWrite(ctx, player.ID)
	return s.mutate(ctx, func(now time.Time) (change, error) {
		ledger := s.cache.Invites()
		if _, ok := ledger.Get(player.ID, teamID, now); !ok {
			return change{}, ErrInviteNotFound
		}
		inv, _ := ledger.Remove(player.ID, teamID)
		s.cache.TouchInvites()

		ch := change{
			scope:   team.Scope{Invitees: []uuid.UUID{player.ID}},
			packets: []protocol.Packet{s.invitePacket(protocol.InviteDenied, inv, s.host.PlayerName(inv.InviterID))},
		}
		if s.presence.IsLocal(inv.InviterID) {
			ch.notices = append(ch.notices, notice{player: inv.InviterID, n: host.Notice{
				Code: host.NoticeInviteDenied,
				Args: args("player", player.Name, "team", inv.TeamName),
			}})
		}
		return ch, nil
	})
}

// CancelInvite withdraws the actor's team invite to target. Only the owner
// may cancel.
func (s *Service) CancelInvite(ctx context.Context, actor team.Player, target uuid.UUID) error {
	s.syncBeforeWrite(ctx, actor.ID, target)
	return s.mutate(ctx, func(now time.Time) (change, error) {
		t, err := s.ownedTeam(actor.ID)
		if err != nil {
			return change{}, err
		}
		ledger := s.cache.Invites()
		if _, ok := ledger.Get(target, t.ID, now); !ok {
			return change{}, ErrInviteNotFound
		}
		inv, _ := ledger.Remove(target, t.ID)
		s.cache.TouchInvites()

		ch := change{
			scope:   team.Scope{Invitees: []uuid.UUID{target}},
			packets: []protocol.Packet{s.invitePacket(protocol.InviteCancelled, inv, actor.Name)},
		}
		if s.presence.IsLocal(target) {
			ch.notices = append(ch.notices, notice{player: target, n: host.Notice{
				Code: host.NoticeInviteCancelled,
				Args: args("team", t.Name),
			}})
		}
		return ch, nil
	})
}

// InviteSummary is a player's view of its pending invites.
type InviteSummary struct {
	Invites []invite.Invite
	Limit   int
}

// InvitesFor lists player's live invites, oldest first.
func (s *Service) InvitesFor(ctx context.Context, player uuid.UUID) (InviteSummary, error) {
	var sum InviteSummary
	err := s.loop.Do(ctx, func() {
		ledger := s.cache.Invites()
		sum = InviteSummary{
			Invites: ledger.ListActive(player, s.clock.Now()),
			Limit:   ledger.Limit(),
		}
	})
	return sum, err
}

// OutgoingInvites lists the live invites sent by the team player owns.
func (s *Service) OutgoingInvites(ctx context.Context, player uuid.UUID) ([]invite.Invite, error) {
	var (
		out   []invite.Invite
		opErr error
	)
	err := s.loop.Do(ctx, func() {
		t, err := s.ownedTeam(player)
		if err != nil {
			opErr = err
			return
		}
		out = s.cache.Invites().OutgoingForTeam(t.ID, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	return out, opErr
}

// SweepInvites purges every expired invite, deletes their rows and tells
// local invitees. It returns how many were purged.
func (s *Service) SweepInvites(ctx context.Context) (int, error) {
	var expired []uuid.UUID
	if err := s.loop.Do(ctx, func() {
		expired = s.cache.Invites().ExpiredInvitees(s.clock.Now())
	}); err != nil {
		return 0, err
	}
	for _, invitee := range expired {
		if err := s.backfillInvites(ctx, invitee); err != nil {
			slog.Warn("invite backfill before sweep failed", "invitee", invitee, "error", err)
		}
	}

	var purged []invite.Invite
	err := s.mutate(ctx, func(now time.Time) (change, error) {
		purged = s.cache.Invites().PurgeExpiredAll(now)
		if len(purged) == 0 {
			return change{}, nil
		}
		s.cache.TouchInvites()

		var ch change
		for _, inv := range purged {
			ch.scope = ch.scope.Merge(team.Scope{Invitees: []uuid.UUID{inv.InviteeID}})
			if s.presence.IsLocal(inv.InviteeID) {
				ch.notices = append(ch.notices, notice{player: inv.InviteeID, n: host.Notice{
					Code: host.NoticeInviteExpired,
					Args: args("team", inv.TeamName),
				}})
			}
		}
		return ch, nil
	})
	return len(purged), err
}

// dropInvitesOf removes every invite addressed to player, on the loop, and
// returns the invitee scope to persist. The scope is returned even when the
// cache holds none, clearing rows this process never learned about.
func (s *Service) dropInvitesOf(player uuid.UUID) []uuid.UUID {
	ledger := s.cache.Invites()
	held := ledger.ListActive(player, s.clock.Now())
	for _, inv := range held {
		ledger.Remove(player, inv.TeamID)
	}
	if len(held) > 0 {
		s.cache.TouchInvites()
	}
	return []uuid.UUID{player}
}

// ensureTeam backfills teamID from the store when the cache lacks it.
func (s *Service) ensureTeam(ctx context.Context, teamID uuid.UUID) error {
	s.saveMu.RLock()
	defer s.saveMu.RUnlock()

	var (
		known bool
		gen   uint64
	)
	if err := s.loop.Do(ctx, func() {
		_, known = s.cache.Team(teamID)
		gen = s.cache.Generation()
	}); err != nil {
		return err
	}
	if known {
		return nil
	}

	err := s.refreshTeam(ctx, teamID, gen)
	if err != nil && !errors.Is(err, team.ErrTeamNotFound) {
		return err
	}
	return nil
}

func (s *Service) invitePacket(typ protocol.InviteType, inv invite.Invite, inviterName string) protocol.InvitePacket {
	return protocol.InvitePacket{
		Origin:      s.cfg.ServerID,
		Type:        typ,
		TeamID:      inv.TeamID,
		TeamName:    inv.TeamName,
		InviterID:   inv.InviterID,
		InviterName: inviterName,
		InviteeID:   inv.InviteeID,
		InviteeName: s.host.PlayerName(inv.InviteeID),
		CreatedAtMs: protocol.Millis(inv.CreatedAt),
		ExpiresAtMs: protocol.Millis(inv.ExpiresAt),
	}
}
