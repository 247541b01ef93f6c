package protocol

import (
	"time"

	"github.com/google/uuid"
)

// InviteType is the invite lifecycle step a packet announces.
type InviteType string

const (
	InviteSent      InviteType = "SENT"
	InviteAccepted  InviteType = "ACCEPTED"
	InviteDenied    InviteType = "DENIED"
	InviteExpired   InviteType = "EXPIRED"
	InviteCancelled InviteType = "CANCELLED"
)

// InvitePacket tells remote processes that an invitee's pending invites changed.
//
//	v1|origin|TYPE|teamId|teamName|inviterUuid|inviterName|inviteeUuid|inviteeName|createdAtMs|expiresAtMs
type InvitePacket struct {
	Origin      string
	Type        InviteType
	TeamID      uuid.UUID
	TeamName    string
	InviterID   uuid.UUID
	InviterName string
	InviteeID   uuid.UUID
	InviteeName string
	CreatedAtMs int64
	ExpiresAtMs int64
}

const inviteFieldCount = 11

func (p InvitePacket) Kind() Kind     { return KindInvite }
func (p InvitePacket) Source() string { return p.Origin }

func (p InvitePacket) Encode() string {
	return join(Version, p.Origin, string(p.Type),
		idString(p.TeamID), p.TeamName,
		idString(p.InviterID), p.InviterName,
		idString(p.InviteeID), p.InviteeName,
		millisString(p.CreatedAtMs), millisString(p.ExpiresAtMs))
}

// DecodeInvite parses an invite packet line.
func DecodeInvite(line string) (InvitePacket, bool) {
	r, origin, ok := open(line, inviteFieldCount)
	if !ok {
		return InvitePacket{}, false
	}
	p := InvitePacket{
		Origin:      origin,
		Type:        InviteType(r.oneOf(string(InviteSent), string(InviteAccepted), string(InviteDenied), string(InviteExpired), string(InviteCancelled))),
		TeamID:      r.id(),
		TeamName:    r.text(),
		InviterID:   r.id(),
		InviterName: r.text(),
		InviteeID:   r.id(),
		InviteeName: r.text(),
		CreatedAtMs: r.millis(),
		ExpiresAtMs: r.millis(),
	}
	if !r.ok {
		return InvitePacket{}, false
	}
	return p, true
}

// PresenceType is the presence transition a packet announces.
type PresenceType string

const (
	PresenceOnline  PresenceType = "ONLINE"
	PresenceOffline PresenceType = "OFFLINE"
)

// PresencePacket drives network-wide online displays.
//
//	v1|origin|TYPE|playerUuid|playerName|serverId|atMs
type PresencePacket struct {
	Origin     string
	Type       PresenceType
	PlayerID   uuid.UUID
	PlayerName string
	ServerID   string
	AtMs       int64
}

const presenceFieldCount = 7

func (p PresencePacket) Kind() Kind     { return KindPresence }
func (p PresencePacket) Source() string { return p.Origin }

func (p PresencePacket) Encode() string {
	return join(Version, p.Origin, string(p.Type),
		idString(p.PlayerID), p.PlayerName, p.ServerID, millisString(p.AtMs))
}

// DecodePresence parses a presence packet line.
func DecodePresence(line string) (PresencePacket, bool) {
	r, origin, ok := open(line, presenceFieldCount)
	if !ok {
		return PresencePacket{}, false
	}
	p := PresencePacket{
		Origin:     origin,
		Type:       PresenceType(r.oneOf(string(PresenceOnline), string(PresenceOffline))),
		PlayerID:   r.id(),
		PlayerName: r.text(),
		ServerID:   r.required(),
		AtMs:       r.millis(),
	}
	if !r.ok {
		return PresencePacket{}, false
	}
	return p, true
}

// ChatPacket relays an already rendered team chat line to teammates
// connected to other processes.
//
//	v1|origin|teamId|senderUuid|senderName|renderedMessage|sentAtMs
type ChatPacket struct {
	Origin     string
	TeamID     uuid.UUID
	SenderID   uuid.UUID
	SenderName string
	Message    string
	SentAtMs   int64
}

const chatFieldCount = 7

func (p ChatPacket) Kind() Kind     { return KindChat }
func (p ChatPacket) Source() string { return p.Origin }

func (p ChatPacket) Encode() string {
	return join(Version, p.Origin, idString(p.TeamID),
		idString(p.SenderID), p.SenderName, p.Message, millisString(p.SentAtMs))
}

// DecodeChat parses a team chat packet line.
func DecodeChat(line string) (ChatPacket, bool) {
	r, origin, ok := open(line, chatFieldCount)
	if !ok {
		return ChatPacket{}, false
	}
	p := ChatPacket{
		Origin:     origin,
		TeamID:     r.id(),
		SenderID:   r.id(),
		SenderName: r.text(),
		Message:    r.text(),
		SentAtMs:   r.millis(),
	}
	if !r.ok {
		return ChatPacket{}, false
	}
	return p, true
}

// MembershipType is the team change a packet announces.
type MembershipType string

const (
	MemberJoined     MembershipType = "MEMBER_JOINED"
	MemberLeft       MembershipType = "MEMBER_LEFT"
	MemberKicked     MembershipType = "MEMBER_KICKED"
	TeamDisbanded    MembershipType = "TEAM_DISBANDED"
	TeamRenamed      MembershipType = "TEAM_RENAMED"
	OwnerTransferred MembershipType = "OWNER_TRANSFERRED"
)

// MembershipPacket triggers targeted cache invalidation on remote processes.
// TargetID is uuid.Nil when the event has no target player.
//
//	v1|origin|TYPE|teamId|teamName|actorUuid|actorName|targetUuid|targetName|atMs
type MembershipPacket struct {
	Origin     string
	Type       MembershipType
	TeamID     uuid.UUID
	TeamName   string
	ActorID    uuid.UUID
	ActorName  string
	TargetID   uuid.UUID
	TargetName string
	AtMs       int64
}

const membershipFieldCount = 10

func (p MembershipPacket) Kind() Kind     { return KindMembership }
func (p MembershipPacket) Source() string { return p.Origin }

func (p MembershipPacket) Encode() string {
	return join(Version, p.Origin, string(p.Type),
		idString(p.TeamID), p.TeamName,
		idString(p.ActorID), p.ActorName,
		optionalIDString(p.TargetID), p.TargetName,
		millisString(p.AtMs))
}

// DecodeMembership parses a team membership packet line.
func DecodeMembership(line string) (MembershipPacket, bool) {
	r, origin, ok := open(line, membershipFieldCount)
	if !ok {
		return MembershipPacket{}, false
	}
	p := MembershipPacket{
		Origin: origin,
		Type: MembershipType(r.oneOf(string(MemberJoined), string(MemberLeft), string(MemberKicked),
			string(TeamDisbanded), string(TeamRenamed), string(OwnerTransferred))),
		TeamID:     r.id(),
		TeamName:   r.text(),
		ActorID:    r.id(),
		ActorName:  r.text(),
		TargetID:   r.optionalID(),
		TargetName: r.text(),
		AtMs:       r.millis(),
	}
	if !r.ok {
		return MembershipPacket{}, false
	}
	return p, true
}

// HomeTeleportPacket hands a home teleport off to the process that
// recorded the home.
//
//	v1|origin|targetServer|teamId|homeKey|homeDisplay|playerUuid|playerName|requestId|atMs
type HomeTeleportPacket struct {
	Origin       string
	TargetServer string
	TeamID       uuid.UUID
	HomeKey      string
	HomeDisplay  string
	PlayerID     uuid.UUID
	PlayerName   string
	RequestID    uuid.UUID
	AtMs         int64
}

const homeTeleportFieldCount = 10

func (p HomeTeleportPacket) Kind() Kind     { return KindHomeTeleport }
func (p HomeTeleportPacket) Source() string { return p.Origin }

func (p HomeTeleportPacket) Encode() string {
	return join(Version, p.Origin, p.TargetServer,
		idString(p.TeamID), p.HomeKey, p.HomeDisplay,
		idString(p.PlayerID), p.PlayerName,
		idString(p.RequestID), millisString(p.AtMs))
}

// DecodeHomeTeleport parses a home teleport request line.
func DecodeHomeTeleport(line string) (HomeTeleportPacket, bool) {
	r, origin, ok := open(line, homeTeleportFieldCount)
	if !ok {
		return HomeTeleportPacket{}, false
	}
	p := HomeTeleportPacket{
		Origin:       origin,
		TargetServer: r.required(),
		TeamID:       r.id(),
		HomeKey:      r.required(),
		HomeDisplay:  r.text(),
		PlayerID:     r.id(),
		PlayerName:   r.text(),
		RequestID:    r.id(),
		AtMs:         r.millis(),
	}
	if !r.ok {
		return HomeTeleportPacket{}, false
	}
	return p, true
}

// Millis converts t to the epoch milliseconds carried on the wire.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts wire milliseconds back to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
