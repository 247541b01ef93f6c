package protocol_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/teamsync/internal/protocol"
)

const awkward = `a|b\c\\|d\`

func samplePackets() []protocol.Packet {
	return []protocol.Packet{
		protocol.InvitePacket{
			Origin: "lobby-1", Type: protocol.InviteSent,
			TeamID: uuid.New(), TeamName: "red|team",
			InviterID: uuid.New(), InviterName: "alice",
			InviteeID: uuid.New(), InviteeName: awkward,
			CreatedAtMs: 1000, ExpiresAtMs: 301000,
		},
		protocol.PresencePacket{
			Origin: "survival-2", Type: protocol.PresenceOffline,
			PlayerID: uuid.New(), PlayerName: "bob", ServerID: "survival-2", AtMs: 42,
		},
		protocol.ChatPacket{
			Origin: `odd\origin|`, TeamID: uuid.New(), SenderID: uuid.New(),
			SenderName: "carol", Message: "[Team] carol: hi | there \\o/", SentAtMs: 7,
		},
		protocol.MembershipPacket{
			Origin: "lobby-1", Type: protocol.MemberKicked,
			TeamID: uuid.New(), TeamName: "blue", ActorID: uuid.New(), ActorName: "dave",
			TargetID: uuid.New(), TargetName: "erin", AtMs: 99,
		},
		protocol.MembershipPacket{
			Origin: "lobby-1", Type: protocol.TeamDisbanded,
			TeamID: uuid.New(), TeamName: "", ActorID: uuid.New(), ActorName: "dave",
			AtMs: 100,
		},
		protocol.HomeTeleportPacket{
			Origin: "lobby-1", TargetServer: "survival-2", TeamID: uuid.New(),
			HomeKey: "base", HomeDisplay: "Base|Camp", PlayerID: uuid.New(), PlayerName: "frank",
			RequestID: uuid.New(), AtMs: 123456789,
		},
	}
}

func TestRoundTrip_AllKinds(t *testing.T) {
	for _, p := range samplePackets() {
		t.Run(string(p.Kind()), func(t *testing.T) {
			line := p.Encode()
			assert.True(t, strings.HasPrefix(line, "v1|"))
			assert.NotContains(t, line, "\n")

			got, ok := protocol.Decode(p.Kind(), line)
			require.True(t, ok, "decode failed for %q", line)
			assert.Equal(t, p, got)
			assert.Equal(t, p.Source(), got.Source())
		})
	}
}

func TestEncode_InviteFieldOrder(t *testing.T) {
	team := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	inviter := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	invitee := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	line := protocol.InvitePacket{
		Origin: "p1", Type: protocol.InviteAccepted,
		TeamID: team, TeamName: "a|b", InviterID: inviter, InviterName: "x",
		InviteeID: invitee, InviteeName: "y", CreatedAtMs: 5, ExpiresAtMs: 6,
	}.Encode()

	assert.Equal(t,
		`v1|p1|ACCEPTED|11111111-1111-1111-1111-111111111111|a\|b|22222222-2222-2222-2222-222222222222|x|33333333-3333-3333-3333-333333333333|y|5|6`,
		line)
}

func TestEncode_MembershipWithoutTargetLeavesFieldEmpty(t *testing.T) {
	p := protocol.MembershipPacket{
		Origin: "p1", Type: protocol.TeamRenamed, TeamID: uuid.New(), TeamName: "new",
		ActorID: uuid.New(), ActorName: "a", AtMs: 1,
	}
	fields := strings.Split(p.Encode(), "|")
	require.Len(t, fields, 10)
	assert.Equal(t, "", fields[7])
}

func TestDecode_RejectsMalformed(t *testing.T) {
	valid := protocol.PresencePacket{
		Origin: "p1", Type: protocol.PresenceOnline, PlayerID: uuid.New(),
		PlayerName: "n", ServerID: "p1", AtMs: 10,
	}.Encode()
	fields := strings.Split(valid, "|")

	with := func(i int, v string) string {
		f := append([]string(nil), fields...)
		f[i] = v
		return strings.Join(f, "|")
	}

	tests := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"wrong version", with(0, "v2")},
		{"missing version", strings.Join(fields[1:], "|")},
		{"empty origin", with(1, "")},
		{"unknown type", with(2, "AWAY")},
		{"bad uuid", with(3, "not-a-uuid")},
		{"empty server", with(5, "")},
		{"bad number", with(6, "12x")},
		{"negative number", with(6, "-1")},
		{"extra field", valid + "|extra"},
		{"missing field", strings.Join(fields[:6], "|")},
		{"dangling escape", valid + `\`},
		{"unknown escape", with(4, `a\nb`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := protocol.DecodePresence(tt.line)
			assert.False(t, ok)
			assert.Equal(t, protocol.PresencePacket{}, p)
		})
	}
}

func TestDecode_KindMismatchFails(t *testing.T) {
	chat := protocol.ChatPacket{
		Origin: "p1", TeamID: uuid.New(), SenderID: uuid.New(), SenderName: "s", Message: "m", SentAtMs: 1,
	}.Encode()

	// Same field count as presence, but the type column is a uuid.
	_, ok := protocol.Decode(protocol.KindPresence, chat)
	assert.False(t, ok)

	_, ok = protocol.Decode(protocol.KindInvite, chat)
	assert.False(t, ok)

	_, ok = protocol.Decode(protocol.Kind("bogus"), chat)
	assert.False(t, ok)
}

func TestDecode_MembershipRejectsBadOptionalTarget(t *testing.T) {
	line := protocol.MembershipPacket{
		Origin: "p1", Type: protocol.MemberLeft, TeamID: uuid.New(), ActorID: uuid.New(), AtMs: 1,
	}.Encode()
	fields := strings.Split(line, "|")
	fields[7] = "zzz"

	_, ok := protocol.DecodeMembership(strings.Join(fields, "|"))
	assert.False(t, ok)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "teams:chat", protocol.Channel("teams", protocol.KindChat))
	assert.Equal(t, "presence", protocol.Channel("", protocol.KindPresence))
	assert.Len(t, protocol.Kinds(), 5)
}

func TestMillisRoundTrip(t *testing.T) {
	ts := protocol.FromMillis(1700000000123)
	assert.Equal(t, int64(1700000000123), protocol.Millis(ts))
}
