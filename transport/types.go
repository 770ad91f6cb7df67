package transport

import (
	"net"
)

// Dispatcher processes one inbound datagram and optionally returns a reply.
type Dispatcher interface {
	Dispatch(data []byte, local, remote net.Addr) ([]byte, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(data []byte, local, remote net.Addr) ([]byte, error)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(data []byte, local, remote net.Addr) ([]byte, error) {
	return f(data, local, remote)
}

// Sender transmits a datagram.
type Sender interface {
	// Send writes data to addr.
	Send(data []byte, addr net.Addr) error
}

// Transport is a datagram socket feeding a Dispatcher.
type Transport interface {
	Sender

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the local address the transport is listening on.
	LocalAddr() net.Addr
}
