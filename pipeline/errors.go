package pipeline

import "errors"

// Dispatch errors.
var (
	// ErrNoCapableHandler indicates no registered handler accepted the datagram.
	ErrNoCapableHandler = errors.New("no capable handler for packet")

	// ErrEmptyPacket indicates a zero length datagram.
	ErrEmptyPacket = errors.New("empty packet")
)
