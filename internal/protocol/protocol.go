// Package protocol defines the cross-process packets exchanged over the
// broker. Every packet encodes to a single pipe-delimited line that starts
// with the format version and the origin process id. Decoding fails closed:
// any malformed field yields no packet at all.
package protocol

// Version is the only format version this build reads or writes.
const Version = "v1"

// Kind identifies a packet family. Each kind travels on its own channel.
type Kind string

const (
	KindInvite       Kind = "invite"
	KindPresence     Kind = "presence"
	KindChat         Kind = "chat"
	KindMembership   Kind = "membership"
	KindHomeTeleport Kind = "home-teleport"
)

// Kinds lists every packet kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindInvite, KindPresence, KindChat, KindMembership, KindHomeTeleport}
}

// Packet is implemented by every wire packet value.
type Packet interface {
	Kind() Kind
	// Source returns the id of the process that produced the packet.
	Source() string
	Encode() string
}

// Channel returns the broker channel name for a kind under prefix.
func Channel(prefix string, k Kind) string {
	if prefix == "" {
		return string(k)
	}
	return prefix + ":" + string(k)
}

// Decode parses line as a packet of kind k.
func Decode(k Kind, line string) (Packet, bool) {
	switch k {
	case KindInvite:
		p, ok := DecodeInvite(line)
		return p, ok
	case KindPresence:
		p, ok := DecodePresence(line)
		return p, ok
	case KindChat:
		p, ok := DecodeChat(line)
		return p, ok
	case KindMembership:
		p, ok := DecodeMembership(line)
		return p, ok
	case KindHomeTeleport:
		p, ok := DecodeHomeTeleport(line)
		return p, ok
	}
	return nil, false
}
