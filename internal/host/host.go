// Package host describes the game server that embeds the team service.
//
// Only Host is required. Optional capabilities are detected once by
// Negotiate; callers use the returned Capabilities, which falls back to a
// reduced behaviour when the host lacks one.
package host

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
)

// ErrUnsupported is returned when the host lacks a capability and there is
// no fallback.
var ErrUnsupported = errors.New("host capability not supported")

// Notice codes sent to players. The host maps them to text.
const (
	NoticeTeamChat          = "TEAM_CHAT"
	NoticeInviteReceived    = "INVITE_RECEIVED"
	NoticeInviteAccepted    = "INVITE_ACCEPTED"
	NoticeInviteDenied      = "INVITE_DENIED"
	NoticeInviteExpired     = "INVITE_EXPIRED"
	NoticeInviteCancelled   = "INVITE_CANCELLED"
	NoticeMemberJoined      = "MEMBER_JOINED"
	NoticeMemberLeft        = "MEMBER_LEFT"
	NoticeMemberKicked      = "MEMBER_KICKED"
	NoticeTeamDisbanded     = "TEAM_DISBANDED"
	NoticeTeamRenamed       = "TEAM_RENAMED"
	NoticeOwnerTransferred  = "OWNER_TRANSFERRED"
	NoticeTeammateOnline    = "TEAMMATE_ONLINE"
	NoticeTeammateOffline   = "TEAMMATE_OFFLINE"
	NoticeTransferManually  = "TRANSFER_MANUALLY"
	NoticeTeleportCompleted = "TELEPORT_COMPLETED"
)

// Notice is a message for one player: a stable code plus arguments.
type Notice struct {
	Code string
	Args map[string]string
}

// Location is a point in the game world.
type Location struct {
	World string
	X     float64
	Y     float64
	Z     float64
	Yaw   float64
	Pitch float64
}

// Host is the minimum every game server provides.
type Host interface {
	// Notify delivers n to player if connected here.
	Notify(player uuid.UUID, n Notice)
	// Teleport moves a local player.
	Teleport(ctx context.Context, player uuid.UUID, loc Location) error
}

// Transferer moves a player to another backend through the proxy.
type Transferer interface {
	Transfer(ctx context.Context, player uuid.UUID, serverID string) error
}

// NameResolver looks up a player's display name.
type NameResolver interface {
	PlayerName(player uuid.UUID) (string, bool)
}

// ViewRefresher redraws any team UI a player has open.
type ViewRefresher interface {
	RefreshView(player uuid.UUID)
}

// Capability names reported by Capabilities.Supported.
const (
	CapTransfer    = "transfer"
	CapNames       = "names"
	CapViewRefresh = "view-refresh"
)

// Capabilities is a Host plus the optional interfaces it was found to
// implement at startup.
type Capabilities struct {
	host     Host
	transfer Transferer
	names    NameResolver
	views    ViewRefresher
}

// Negotiate probes h for optional capabilities once.
func Negotiate(h Host) *Capabilities {
	c := &Capabilities{host: h}
	if t, ok := h.(Transferer); ok {
		c.transfer = t
	}
	if n, ok := h.(NameResolver); ok {
		c.names = n
	}
	if v, ok := h.(ViewRefresher); ok {
		c.views = v
	}
	return c
}

// Supported lists the optional capabilities found, sorted.
func (c *Capabilities) Supported() []string {
	var out []string
	if c.transfer != nil {
		out = append(out, CapTransfer)
	}
	if c.names != nil {
		out = append(out, CapNames)
	}
	if c.views != nil {
		out = append(out, CapViewRefresh)
	}
	sort.Strings(out)
	return out
}

// Notify delivers n to player.
func (c *Capabilities) Notify(player uuid.UUID, n Notice) {
	c.host.Notify(player, n)
}

// Teleport moves a local player.
func (c *Capabilities) Teleport(ctx context.Context, player uuid.UUID, loc Location) error {
	return c.host.Teleport(ctx, player, loc)
}

// CanTransfer reports whether players can be moved between backends.
func (c *Capabilities) CanTransfer() bool {
	return c.transfer != nil
}

// Transfer moves player to serverID. Without the capability the player is
// told to switch manually and ErrUnsupported is returned.
func (c *Capabilities) Transfer(ctx context.Context, player uuid.UUID, serverID string) error {
	if c.transfer == nil {
		c.host.Notify(player, Notice{Code: NoticeTransferManually, Args: map[string]string{"server": serverID}})
		return ErrUnsupported
	}
	return c.transfer.Transfer(ctx, player, serverID)
}

// PlayerName resolves a display name, falling back to the id.
func (c *Capabilities) PlayerName(player uuid.UUID) string {
	if c.names != nil {
		if name, ok := c.names.PlayerName(player); ok {
			return name
		}
	}
	return player.String()
}

// RefreshView redraws player's team UI if the host supports it.
func (c *Capabilities) RefreshView(player uuid.UUID) {
	if c.views != nil {
		c.views.RefreshView(player)
	}
}
