package rtcp

import "github.com/pion/rtcp"

// Wire packet type values (RFC 3550 section 12.1, RFC 4585 section 6.1).
const (
	TypeSR    uint8 = uint8(rtcp.TypeSenderReport)
	TypeRR    uint8 = uint8(rtcp.TypeReceiverReport)
	TypeSDES  uint8 = uint8(rtcp.TypeSourceDescription)
	TypeBYE   uint8 = uint8(rtcp.TypeGoodbye)
	TypeAPP   uint8 = uint8(rtcp.TypeApplicationDefined)
	TypeRTPFB uint8 = uint8(rtcp.TypeTransportSpecificFeedback)
	TypePSFB  uint8 = uint8(rtcp.TypePayloadSpecificFeedback)
)

const (
	// Version is the only RTP/RTCP version accepted on the wire.
	Version = 2

	// HeaderLength is the size of the common RTCP header.
	HeaderLength = 4

	// MaxSources is the largest report or source count a single sub-packet carries.
	MaxSources = 31
)

// PacketType tells the session handler whether a compound packet or a
// scheduled transmission is a regular report or a goodbye.
type PacketType uint8

const (
	// PacketTypeReport is a regular SR/RR compound packet.
	PacketTypeReport PacketType = iota
	// PacketTypeBye is a compound packet carrying a BYE.
	PacketTypeBye
)

// String returns a human readable packet type.
func (t PacketType) String() string {
	switch t {
	case PacketTypeReport:
		return "REPORT"
	case PacketTypeBye:
		return "BYE"
	default:
		return "UNKNOWN"
	}
}
