package teamsvc

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/host"
	"github.com/daap14/teamsync/internal/protocol"
	"github.com/daap14/teamsync/internal/team"
)

// CreateTeam makes owner the owner and only member of a new team.
func (s *Service) CreateTeam(ctx context.Context, owner team.Player, name string) (*team.Team, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	s.syncBeforeWrite(ctx, owner.ID)

	var created *team.Team
	err = s.mutate(ctx, func(now time.Time) (change, error) {
		if _, ok := s.cache.TeamIDOf(owner.ID); ok {
			return change{}, ErrAlreadyInTeam
		}
		if _, ok := s.cache.TeamByName(name); ok {
			return change{}, ErrNameTaken
		}

		t := team.New(uuid.New(), name, owner.ID, now)
		s.cache.PutTeam(t)
		created = t.Clone()

		// Joining a team voids any invites the owner was holding.
		invitees := s.dropInvitesOf(owner.ID)
		return change{scope: team.Scope{Teams: []uuid.UUID{t.ID}, Invitees: invitees}}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Disband deletes the actor's team. Only the owner may disband.
func (s *Service) Disband(ctx context.Context, actor team.Player) error {
	s.syncBeforeWrite(ctx, actor.ID)
	return s.mutate(ctx, func(now time.Time) (change, error) {
		t, err := s.ownedTeam(actor.ID)
		if err != nil {
			return change{}, err
		}

		notices := s.localNotices(t, host.Notice{Code: host.NoticeTeamDisbanded, Args: args("team", t.Name)}, actor.ID)
		_, removed, _ := s.cache.RemoveTeam(t.ID)

		ch := change{
			scope:   team.Scope{Teams: []uuid.UUID{t.ID}},
			packets: []protocol.Packet{s.membershipPacket(protocol.TeamDisbanded, t, actor, uuid.Nil, now)},
			notices: notices,
		}
		// Invite rows of a deleted team go with it; the invitees' other
		// rows are left alone.
		for _, inv := range removed {
			ch.packets = append(ch.packets, s.invitePacket(protocol.InviteCancelled, inv, actor.Name))
		}
		return ch, nil
	})
}

// Leave removes player from its team. The owner cannot leave.
func (s *Service) Leave(ctx context.Context, player team.Player) error {
	s.syncBeforeWrite(ctx, player.ID)
	return s.mutate(ctx, func(now time.Time) (change, error) {
		t, ok := s.cache.TeamOf(player.ID)
		if !ok {
			return change{}, ErrNotInTeam
		}
		if t.Owner == player.ID {
			return change{}, ErrOwnerCannotLeave
		}

		delete(t.Members, player.ID)
		s.cache.PutTeam(t)

		return change{
			scope:   team.Scope{Teams: []uuid.UUID{t.ID}},
			packets: []protocol.Packet{s.membershipPacket(protocol.MemberLeft, t, player, player.ID, now)},
			notices: s.localNotices(t, host.Notice{Code: host.NoticeMemberLeft, Args: args("team", t.Name, "player", player.Name)}),
		}, nil
	})
}

// Kick removes target from the actor's team. Only the owner may kick.
func (s *Service) Kick(ctx context.Context, actor team.Player, target uuid.UUID) error {
	s.syncBeforeWrite(ctx, actor.ID)
	return s.mutate(ctx, func(now time.Time) (change, error) {
		t, err := s.ownedTeam(actor.ID)
		if err != nil {
			return change{}, err
		}
		if target == actor.ID {
			return change{}, ErrSelfTarget
		}
		if !t.HasMember(target) {
			return change{}, ErrNotMember
		}

		delete(t.Members, target)
		s.cache.PutTeam(t)

		targetName := s.host.PlayerName(target)
		n := host.Notice{Code: host.NoticeMemberKicked, Args: args("team", t.Name, "player", targetName)}
		notices := s.localNotices(t, n)
		if s.presence.IsLocal(target) {
			notices = append(notices, notice{player: target, n: n})
		}
		return change{
			scope:   team.Scope{Teams: []uuid.UUID{t.ID}},
			packets: []protocol.Packet{s.membershipPacket(protocol.MemberKicked, t, actor, target, now)},
			notices: notices,
		}, nil
	})
}

// TransferOwnership hands the actor's team to another member.
func (s *Service) TransferOwnership(ctx context.Context, actor team.Player, target uuid.UUID) error {
	s.syncBeforeWrite(ctx, actor.ID)
	return s.mutate(ctx, func(now time.Time) (change, error) {
		t, err := s.ownedTeam(actor.ID)
		if err != nil {
			return change{}, err
		}
		if target == actor.ID {
			return change{}, ErrSelfTarget
		}
		if !t.HasMember(target) {
			return change{}, ErrNotMember
		}

		t.Owner = target
		s.cache.PutTeam(t)

		return change{
			scope:   team.Scope{Teams: []uuid.UUID{t.ID}},
			packets: []protocol.Packet{s.membershipPacket(protocol.OwnerTransferred, t, actor, target, now)},
			notices: s.localNotices(t, host.Notice{Code: host.NoticeOwnerTransferred, Args: args("team", t.Name, "owner", s.host.PlayerName(target))}),
		}, nil
	})
}

// Rename changes the name of the actor's team.
func (s *Service) Rename(ctx context.Context, actor team.Player, name string) error {
	name, err := validateName(name)
	if err != nil {
		return err
	}
	s.syncBeforeWrite(ctx, actor.ID)
	return s.mutate(ctx, func(now time.Time) (change, error) {
		t, err := s.ownedTeam(actor.ID)
		if err != nil {
			return change{}, err
		}
		if other, ok := s.cache.TeamByName(name); ok && other.ID != t.ID {
			return change{}, ErrNameTaken
		}

		old := t.Name
		t.Name = name
		s.cache.PutTeam(t)

		return change{
			scope:   team.Scope{Teams: []uuid.UUID{t.ID}},
			packets: []protocol.Packet{s.membershipPacket(protocol.TeamRenamed, t, actor, uuid.Nil, now)},
			notices: s.localNotices(t, host.Notice{Code: host.NoticeTeamRenamed, Args: args("old", old, "team", name)}),
		}, nil
	})
}

// SetFriendlyFire toggles damage between members of the actor's team.
func (s *Service) SetFriendlyFire(ctx context.Context, actor team.Player, enabled bool) error {
	s.syncBeforeWrite(ctx, actor.ID)
	return s.mutate(ctx, func(time.Time) (change, error) {
		t, err := s.ownedTeam(actor.ID)
		if err != nil {
			return change{}, err
		}
		if t.FriendlyFire == enabled {
			return change{}, nil
		}
		t.FriendlyFire = enabled
		s.cache.PutTeam(t)
		return change{scope: team.Scope{Teams: []uuid.UUID{t.ID}}}, nil
	})
}

// CanDamage reports whether attacker may hurt victim. Teammates cannot hurt
// each other unless their team enables friendly fire.
func (s *Service) CanDamage(ctx context.Context, attacker, victim uuid.UUID) (bool, error) {
	allowed := true
	if attacker == victim {
		return allowed, nil
	}
	err := s.loop.Do(ctx, func() {
		a, ok := s.cache.TeamIDOf(attacker)
		if !ok {
			return
		}
		if v, ok := s.cache.TeamIDOf(victim); !ok || v != a {
			return
		}
		t, ok := s.cache.Team(a)
		allowed = !ok || t.FriendlyFire
	})
	return allowed, err
}

// Chat relays a rendered line to the sender's teammates here and on other
// processes.
func (s *Service) Chat(ctx context.Context, sender team.Player, message string) error {
	var t *team.Team
	err := s.loop.Do(ctx, func() {
		t, _ = s.cache.TeamOf(sender.ID)
	})
	if err != nil {
		return err
	}
	if t == nil {
		return ErrNotInTeam
	}

	now := s.clock.Now()
	s.notifyLocalMembers(t, chatNotice(sender.Name, message))
	s.pub.Publish(protocol.ChatPacket{
		Origin:     s.cfg.ServerID,
		TeamID:     t.ID,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Message:    message,
		SentAtMs:   protocol.Millis(now),
	})
	return nil
}

func chatNotice(sender, message string) host.Notice {
	return host.Notice{Code: host.NoticeTeamChat, Args: args("sender", sender, "message", message)}
}

// TeamView is a team with its homes and the network presence of its
// members.
type TeamView struct {
	Team   *team.Team
	Homes  []team.Home
	Online map[uuid.UUID]bool
}

// TeamOf returns the team player belongs to.
func (s *Service) TeamOf(ctx context.Context, player uuid.UUID) (*TeamView, error) {
	var view *TeamView
	err := s.loop.Do(ctx, func() {
		if t, ok := s.cache.TeamOf(player); ok {
			view = &TeamView{Team: t, Homes: s.cache.Homes(t.ID)}
		}
	})
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, ErrNotInTeam
	}
	s.fillPresence(ctx, view)
	return view, nil
}

// Team returns one team by id.
func (s *Service) Team(ctx context.Context, id uuid.UUID) (*TeamView, error) {
	var view *TeamView
	err := s.loop.Do(ctx, func() {
		if t, ok := s.cache.Team(id); ok {
			view = &TeamView{Team: t, Homes: s.cache.Homes(id)}
		}
	})
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, team.ErrTeamNotFound
	}
	s.fillPresence(ctx, view)
	return view, nil
}

func (s *Service) fillPresence(ctx context.Context, view *TeamView) {
	view.Online = make(map[uuid.UUID]bool, len(view.Team.Members))
	for _, m := range view.Team.MemberIDs() {
		view.Online[m] = s.presence.IsLocal(m) || s.presence.IsOnlineNetwork(ctx, m)
	}
}

// BrowseTeams lists every known team. It first refreshes the cache from the
// store unless a refresh ran within the TTL.
func (s *Service) BrowseTeams(ctx context.Context) ([]*team.Team, error) {
	if _, err := s.Refresh(ctx, false); err != nil {
		// Serve what the cache has; the listing is advisory.
		logRefreshFailure(err)
	}

	var teams []*team.Team
	err := s.loop.Do(ctx, func() {
		teams = s.cache.Teams()
	})
	return teams, err
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}
