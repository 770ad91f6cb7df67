package transport

import "errors"

// Socket errors.
var (
	// ErrTransportClosed indicates the socket was closed before or during a send.
	ErrTransportClosed = errors.New("transport closed")

	// ErrNilAddress indicates a send without a destination.
	ErrNilAddress = errors.New("destination address is nil")

	// ErrNilDispatcher indicates a transport created without a dispatcher.
	ErrNilDispatcher = errors.New("dispatcher cannot be nil")
)
