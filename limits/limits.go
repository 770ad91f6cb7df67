// Package limits provides centralized packet size limits for the gateway.
// This ensures consistent validation across the socket, codec and secure layers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagramSize is the largest UDP payload the gateway reads or writes.
	MaxDatagramSize = 8192

	// SRTCPOverhead is the trailer added by SRTCP with AES_CM_128_HMAC_SHA1_80:
	// the E flag plus 31-bit SRTCP index (4 bytes) and the 80-bit auth tag (10 bytes).
	SRTCPOverhead = 14

	// SRTPOverhead is the 80-bit auth tag appended to every SRTP packet.
	SRTPOverhead = 10

	// MaxRTCPPacketSize leaves room for the SRTCP trailer inside a datagram.
	MaxRTCPPacketSize = MaxDatagramSize - SRTCPOverhead

	// MaxRTPPacketSize leaves room for the SRTP auth tag inside a datagram.
	MaxRTPPacketSize = MaxDatagramSize - SRTPOverhead

	// MinRTCPPacketSize is the size of a bare RTCP common header.
	MinRTCPPacketSize = 4

	// MinRTPPacketSize is the size of a fixed RTP header without CSRCs.
	MinRTPPacketSize = 12
)

var (
	// ErrPacketEmpty indicates an empty packet was provided
	ErrPacketEmpty = errors.New("empty packet")

	// ErrPacketTooLarge indicates packet exceeds maximum size
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrPacketTooSmall indicates packet is shorter than its fixed header
	ErrPacketTooSmall = errors.New("packet too small")
)

// ValidatePacketSize validates a packet against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidatePacketSize(packet []byte, maxSize int) error {
	if len(packet) == 0 {
		return ErrPacketEmpty
	}
	if len(packet) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPacketTooLarge, len(packet), maxSize)
	}
	return nil
}

// ValidateDatagram validates a raw datagram against MaxDatagramSize.
func ValidateDatagram(data []byte) error {
	return ValidatePacketSize(data, MaxDatagramSize)
}

// ValidateRTCPPacket validates a plain compound RTCP packet size.
func ValidateRTCPPacket(packet []byte) error {
	if err := ValidatePacketSize(packet, MaxRTCPPacketSize); err != nil {
		return err
	}
	if len(packet) < MinRTCPPacketSize {
		return fmt.Errorf("%w: rtcp size %d below header size %d", ErrPacketTooSmall, len(packet), MinRTCPPacketSize)
	}
	return nil
}

// ValidateRTPPacket validates a plain RTP packet size.
func ValidateRTPPacket(packet []byte) error {
	if err := ValidatePacketSize(packet, MaxRTPPacketSize); err != nil {
		return err
	}
	if len(packet) < MinRTPPacketSize {
		return fmt.Errorf("%w: rtp size %d below header size %d", ErrPacketTooSmall, len(packet), MinRTPPacketSize)
	}
	return nil
}
