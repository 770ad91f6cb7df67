package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspgw/limits"
)

// readTimeout bounds each blocking read so the loop notices cancellation.
const readTimeout = 100 * time.Millisecond

// UDPTransport implements a shared UDP socket.
// It satisfies the Transport interface.
type UDPTransport struct {
	conn       net.PacketConn
	dispatcher Dispatcher
	closed     atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewUDPTransport listens on listenAddr and starts dispatching datagrams.
func NewUDPTransport(listenAddr string, dispatcher Dispatcher) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	t, err := NewUDPTransportFromConn(conn, dispatcher)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

// NewUDPTransportFromConn starts dispatching datagrams read from conn.
// The transport takes ownership of conn.
func NewUDPTransportFromConn(conn net.PacketConn, dispatcher Dispatcher) (*UDPTransport, error) {
	if dispatcher == nil {
		return nil, ErrNilDispatcher
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:       conn,
		dispatcher: dispatcher,
		ctx:        ctx,
		cancel:     cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPTransport",
		"local_addr": conn.LocalAddr().String(),
	}).Info("UDP transport listening")

	t.wg.Add(1)
	go t.processPackets()

	return t, nil
}

// Send sends a datagram to addr.
func (t *UDPTransport) Send(data []byte, addr net.Addr) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if addr == nil {
		return ErrNilAddress
	}
	if err := limits.ValidateDatagram(data); err != nil {
		return err
	}

	if _, err := t.conn.WriteTo(data, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}
		return fmt.Errorf("write to %s: %w", addr, err)
	}
	return nil
}

// Close stops the read loop and closes the socket.
func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.cancel()
	err := t.conn.Close()
	t.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function":   "UDPTransport.Close",
		"local_addr": t.conn.LocalAddr().String(),
	}).Info("UDP transport closed")

	return err
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// processPackets reads until the transport is closed.
func (t *UDPTransport) processPackets() {
	defer t.wg.Done()
	buffer := make([]byte, limits.MaxDatagramSize)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			t.processIncomingPacket(buffer)
		}
	}
}

// processIncomingPacket reads, dispatches and answers a single datagram.
func (t *UDPTransport) processIncomingPacket(buffer []byte) {
	data, addr, err := t.readPacketData(buffer)
	if err != nil {
		return
	}

	reply, err := t.dispatcher.Dispatch(data, t.conn.LocalAddr(), addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "UDPTransport.processIncomingPacket",
			"remote":   addr.String(),
			"size":     len(data),
			"error":    err.Error(),
		}).Debug("Dropped packet")
		return
	}

	if len(reply) > 0 {
		if err := t.Send(reply, addr); err != nil && !errors.Is(err, ErrTransportClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "UDPTransport.processIncomingPacket",
				"remote":   addr.String(),
				"error":    err.Error(),
			}).Warn("Failed to send reply")
		}
	}
}

// readPacketData reads one datagram with timeout handling. The returned
// slice is a copy, so handlers may retain it.
func (t *UDPTransport) readPacketData(buffer []byte) ([]byte, net.Addr, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(readTimeout))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, t.handleReadError(err)
	}
	if n == 0 {
		return nil, nil, limits.ErrPacketEmpty
	}

	data := make([]byte, n)
	copy(data, buffer[:n])
	return data, addr, nil
}

// handleReadError classifies read failures; timeouts are expected.
func (t *UDPTransport) handleReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return err
	}
	if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "UDPTransport.handleReadError",
		"error":    err.Error(),
	}).Warn("UDP read failed")
	return err
}
