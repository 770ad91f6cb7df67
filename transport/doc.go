// Package transport owns the UDP socket shared by every protocol of a
// gateway session.
//
// A UDPTransport reads datagrams in a loop and hands each one, with the
// local and remote addresses, to a Dispatcher. A non-empty reply returned by
// the dispatcher is written back to the remote address, which is how STUN
// binding responses leave the socket. Session code only sees the Sender
// interface:
//
//	t, err := NewUDPTransport(":5004", dispatcher)
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
//	err = t.Send(report, remote)
//
// Send on a closed transport returns ErrTransportClosed, which session
// handlers treat as a silent no-op.
//
// SourceGuard locks a session to the first remote address it hears from.
package transport
