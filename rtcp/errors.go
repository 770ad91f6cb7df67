package rtcp

import "errors"

// Codec errors.
var (
	// ErrMalformedPacket indicates a sub-packet header or body could not be decoded.
	ErrMalformedPacket = errors.New("malformed RTCP packet")

	// ErrBufferTooSmall indicates the destination buffer cannot hold the encoded packet.
	ErrBufferTooSmall = errors.New("buffer too small for RTCP packet")

	// ErrEmptyPacket indicates an encode was requested with no populated sub-packet.
	ErrEmptyPacket = errors.New("compound RTCP packet has no sub-packets")
)
