package rtcp

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"
)

// CompoundPacket is a compound RTCP packet with one slot per sub-packet kind.
//
// Only non-nil slots are encoded. Decoding a second sub-packet of the same
// kind replaces the first, except for feedback messages which accumulate.
type CompoundPacket struct {
	SenderReport      *rtcp.SenderReport
	ReceiverReport    *rtcp.ReceiverReport
	SourceDescription *rtcp.SourceDescription
	AppDefined        *AppPacket
	Goodbye           *rtcp.Goodbye
	Feedback          []rtcp.Packet

	size        int
	packetCount int
	truncated   bool
}

// NewCompoundPacket creates a compound packet from a report and optional
// SDES and BYE sub-packets. report must be a *rtcp.SenderReport or a
// *rtcp.ReceiverReport; any other value is ignored.
func NewCompoundPacket(report rtcp.Packet, sdes *rtcp.SourceDescription, bye *rtcp.Goodbye) *CompoundPacket {
	p := &CompoundPacket{
		SourceDescription: sdes,
		Goodbye:           bye,
	}

	switch r := report.(type) {
	case *rtcp.SenderReport:
		p.SenderReport = r
	case *rtcp.ReceiverReport:
		p.ReceiverReport = r
	}

	return p
}

// subDecoder decodes one sub-packet kind into its slot.
type subDecoder struct {
	name   string
	decode func(p *CompoundPacket, raw []byte) error
}

var subDecoders = map[uint8]subDecoder{
	TypeSR: {"SR", func(p *CompoundPacket, raw []byte) error {
		sr := &rtcp.SenderReport{}
		if err := sr.Unmarshal(raw); err != nil {
			return err
		}
		p.SenderReport = sr
		return nil
	}},
	TypeRR: {"RR", func(p *CompoundPacket, raw []byte) error {
		rr := &rtcp.ReceiverReport{}
		if err := rr.Unmarshal(raw); err != nil {
			return err
		}
		p.ReceiverReport = rr
		return nil
	}},
	TypeSDES: {"SDES", func(p *CompoundPacket, raw []byte) error {
		sdes := &rtcp.SourceDescription{}
		if err := sdes.Unmarshal(raw); err != nil {
			return err
		}
		p.SourceDescription = sdes
		return nil
	}},
	TypeAPP: {"APP", func(p *CompoundPacket, raw []byte) error {
		app := &AppPacket{}
		if err := app.Unmarshal(raw); err != nil {
			return err
		}
		p.AppDefined = app
		return nil
	}},
	TypeBYE: {"BYE", func(p *CompoundPacket, raw []byte) error {
		bye := &rtcp.Goodbye{}
		if err := bye.Unmarshal(raw); err != nil {
			return err
		}
		p.Goodbye = bye
		return nil
	}},
	TypeRTPFB: {"RTPFB", decodeFeedback},
	TypePSFB:  {"PSFB", decodeFeedback},
}

func decodeFeedback(p *CompoundPacket, raw []byte) error {
	packets, err := rtcp.Unmarshal(raw)
	if err != nil {
		return err
	}
	p.Feedback = append(p.Feedback, packets...)
	return nil
}

// Decode parses the sub-packets in data starting at offset and returns the
// offset after the last consumed byte.
//
// Every sub-packet must fit inside data according to its declared length,
// otherwise ErrMalformedPacket is returned. An unknown sub-packet type stops
// decoding and the rest of the buffer is reported as consumed. Decode
// replaces any previous contents of p.
func (p *CompoundPacket) Decode(data []byte, offset int) (int, error) {
	*p = CompoundPacket{}

	for offset < len(data) {
		if len(data)-offset < HeaderLength {
			return offset, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrMalformedPacket, len(data)-offset, offset)
		}

		packetType := data[offset+1]
		dec, ok := subDecoders[packetType]
		if !ok {
			logrus.WithFields(logrus.Fields{
				"function":     "CompoundPacket.Decode",
				"packet_type":  packetType,
				"offset":       offset,
				"packet_count": p.packetCount,
			}).Error("Unknown RTCP sub-packet type, discarding rest of compound packet")
			p.truncated = true
			return len(data), nil
		}

		length := (int(binary.BigEndian.Uint16(data[offset+2:])) + 1) * 4
		if offset+length > len(data) {
			return offset, fmt.Errorf("%w: %s declares %d bytes, %d available", ErrMalformedPacket, dec.name, length, len(data)-offset)
		}

		if err := dec.decode(p, data[offset:offset+length]); err != nil {
			return offset, fmt.Errorf("%w: %s at offset %d: %v", ErrMalformedPacket, dec.name, offset, err)
		}

		p.packetCount++
		p.size += length
		offset += length

		logrus.WithFields(logrus.Fields{
			"function": "CompoundPacket.Decode",
			"type":     dec.name,
			"offset":   offset,
		}).Trace("Decoded RTCP sub-packet")
	}

	return offset, nil
}

// Unmarshal decodes a whole buffer as one compound packet.
func (p *CompoundPacket) Unmarshal(data []byte) error {
	_, err := p.Decode(data, 0)
	return err
}

type marshaler interface {
	Marshal() ([]byte, error)
}

// ordered returns the populated sub-packets in canonical encode order.
func (p *CompoundPacket) ordered() []marshaler {
	subs := make([]marshaler, 0, len(p.Feedback)+5)
	for _, fb := range p.Feedback {
		subs = append(subs, fb)
	}
	if p.SenderReport != nil {
		subs = append(subs, p.SenderReport)
	}
	if p.ReceiverReport != nil {
		subs = append(subs, p.ReceiverReport)
	}
	if p.SourceDescription != nil {
		subs = append(subs, p.SourceDescription)
	}
	if p.AppDefined != nil {
		subs = append(subs, p.AppDefined)
	}
	if p.Goodbye != nil {
		subs = append(subs, p.Goodbye)
	}
	return subs
}

// Encode writes the populated sub-packets into data starting at offset and
// returns the new offset. Size reports the number of bytes written.
func (p *CompoundPacket) Encode(data []byte, offset int) (int, error) {
	start := offset
	subs := p.ordered()
	if len(subs) == 0 {
		return start, ErrEmptyPacket
	}

	count := 0
	for _, sub := range subs {
		raw, err := sub.Marshal()
		if err != nil {
			return start, fmt.Errorf("marshal %T: %w", sub, err)
		}
		if len(data)-offset < len(raw) {
			return start, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrBufferTooSmall, len(raw), offset, len(data)-offset)
		}
		offset += copy(data[offset:], raw)
		count++
	}

	p.packetCount = count
	p.size = offset - start
	return offset, nil
}

// Marshal encodes the compound packet into a freshly allocated buffer.
func (p *CompoundPacket) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	n, err := p.Encode(buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// MarshalSize returns the number of bytes Encode will write, or 0 if a
// sub-packet cannot be marshaled.
func (p *CompoundPacket) MarshalSize() int {
	total := 0
	for _, sub := range p.ordered() {
		raw, err := sub.Marshal()
		if err != nil {
			return 0
		}
		total += len(raw)
	}
	return total
}

// IsSender reports whether the packet carries a sender report.
func (p *CompoundPacket) IsSender() bool {
	return p.SenderReport != nil
}

// HasBye reports whether the packet carries a BYE.
func (p *CompoundPacket) HasBye() bool {
	return p.Goodbye != nil
}

// PacketType classifies the packet as a BYE or a regular report.
func (p *CompoundPacket) PacketType() PacketType {
	if p.Goodbye != nil {
		return PacketTypeBye
	}
	return PacketTypeReport
}

// Report returns the SR or RR sub-packet, preferring the SR.
func (p *CompoundPacket) Report() rtcp.Packet {
	if p.SenderReport != nil {
		return p.SenderReport
	}
	if p.ReceiverReport != nil {
		return p.ReceiverReport
	}
	return nil
}

// Size is the byte count of the last Encode, or of the sub-packets read by the last Decode.
func (p *CompoundPacket) Size() int {
	return p.size
}

// PacketCount is the number of sub-packets handled by the last Encode or Decode.
func (p *CompoundPacket) PacketCount() int {
	return p.packetCount
}

// Truncated reports whether the last Decode stopped at an unknown sub-packet type.
func (p *CompoundPacket) Truncated() bool {
	return p.truncated
}

// String renders the report, SDES and BYE sub-packets.
func (p *CompoundPacket) String() string {
	var sb strings.Builder
	if p.SenderReport != nil {
		sb.WriteString(p.SenderReport.String())
	}
	if p.ReceiverReport != nil {
		sb.WriteString(p.ReceiverReport.String())
	}
	if p.SourceDescription != nil {
		sb.WriteString(p.SourceDescription.String())
	}
	if p.AppDefined != nil {
		sb.WriteString(p.AppDefined.String())
		sb.WriteString("\n")
	}
	if p.Goodbye != nil {
		sb.WriteString(p.Goodbye.String())
	}
	return sb.String()
}
