package rtcp

import (
	"encoding/binary"
	"fmt"
)

// AppPacket is an application-defined RTCP sub-packet (RFC 3550 section 6.7).
type AppPacket struct {
	// Subtype is carried in the five count bits of the header.
	Subtype uint8
	SSRC    uint32
	// Name is the four ASCII character application name.
	Name [4]byte
	// Data is application dependent and must be a multiple of 32 bits long.
	Data []byte
}

const appFixedLength = HeaderLength + 4 + 4

// Marshal encodes the APP sub-packet.
func (a *AppPacket) Marshal() ([]byte, error) {
	if a.Subtype > MaxSources {
		return nil, fmt.Errorf("app subtype %d exceeds %d", a.Subtype, MaxSources)
	}
	if len(a.Data)%4 != 0 {
		return nil, fmt.Errorf("app data length %d is not a multiple of 4", len(a.Data))
	}

	total := appFixedLength + len(a.Data)
	raw := make([]byte, total)
	raw[0] = Version<<6 | a.Subtype
	raw[1] = TypeAPP
	binary.BigEndian.PutUint16(raw[2:], uint16(total/4-1))
	binary.BigEndian.PutUint32(raw[4:], a.SSRC)
	copy(raw[8:12], a.Name[:])
	copy(raw[12:], a.Data)

	return raw, nil
}

// Unmarshal decodes an APP sub-packet. raw must hold exactly the declared length.
func (a *AppPacket) Unmarshal(raw []byte) error {
	if len(raw) < appFixedLength {
		return fmt.Errorf("app packet of %d bytes is shorter than %d", len(raw), appFixedLength)
	}
	if raw[0]>>6 != Version {
		return fmt.Errorf("app packet has version %d", raw[0]>>6)
	}
	if raw[1] != TypeAPP {
		return fmt.Errorf("app packet has type %d", raw[1])
	}

	end := len(raw)
	if raw[0]&0x20 != 0 {
		pad := int(raw[end-1])
		if pad == 0 || pad > end-appFixedLength {
			return fmt.Errorf("app packet has invalid padding %d", pad)
		}
		end -= pad
	}

	a.Subtype = raw[0] & 0x1f
	a.SSRC = binary.BigEndian.Uint32(raw[4:])
	copy(a.Name[:], raw[8:12])
	a.Data = append([]byte(nil), raw[appFixedLength:end]...)

	return nil
}

// String returns the application name and data size.
func (a *AppPacket) String() string {
	return fmt.Sprintf("APP ssrc=%d subtype=%d name=%q data=%d bytes", a.SSRC, a.Subtype, string(a.Name[:]), len(a.Data))
}
