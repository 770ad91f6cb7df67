package secure

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspgw/transport"
)

// DefaultDTLSPriority places DTLS between STUN and media.
const DefaultDTLSPriority = 90

// dtlsRecordQueue bounds the records buffered ahead of the DTLS reader.
const dtlsRecordQueue = 64

// DTLSHandler demultiplexes DTLS records of one remote peer off the shared
// socket. It implements the pipeline handler contract and net.Conn, so it
// can be passed to dtls.Server or dtls.Client directly.
type DTLSHandler struct {
	priority int
	sender   transport.Sender
	local    net.Addr
	remote   net.Addr

	records   chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	mu              sync.Mutex
	readDeadline    time.Time
	deadlineChanged chan struct{}
}

// NewDTLSHandler creates a record handler writing to remote through sender.
func NewDTLSHandler(priority int, sender transport.Sender, local, remote net.Addr) *DTLSHandler {
	return &DTLSHandler{
		priority: priority,
		sender:   sender,
		local:    local,
		remote:   remote,
		records:  make(chan []byte, dtlsRecordQueue),
		closed:   make(chan struct{}),

		deadlineChanged: make(chan struct{}),
	}
}

// CanHandle accepts DTLS records, whose content type byte is in [20, 63]
// per RFC 5764 section 5.1.2.
func (h *DTLSHandler) CanHandle(data []byte) bool {
	return len(data) > 0 && data[0] >= 20 && data[0] <= 63
}

// Priority implements the pipeline handler contract.
func (h *DTLSHandler) Priority() int {
	return h.priority
}

// Handle queues a record for the DTLS reader. Records arriving while the
// queue is full are dropped; DTLS retransmits them.
func (h *DTLSHandler) Handle(data []byte, local, remote net.Addr) ([]byte, error) {
	record := append([]byte(nil), data...)

	select {
	case <-h.closed:
		return nil, ErrConnClosed
	default:
	}

	select {
	case h.records <- record:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "DTLSHandler.Handle",
			"remote":   remote,
			"size":     len(data),
		}).Warn("DTLS record queue full, dropping record")
	}
	return nil, nil
}

// Read returns the next queued record. A deadline set while Read is
// blocked takes effect immediately. Close takes precedence over an expired
// deadline.
func (h *DTLSHandler) Read(b []byte) (int, error) {
	for {
		select {
		case <-h.closed:
			return 0, ErrConnClosed
		default:
		}

		h.mu.Lock()
		deadline := h.readDeadline
		changed := h.deadlineChanged
		h.mu.Unlock()

		var (
			timeout <-chan time.Time
			timer   *time.Timer
		)
		if !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 {
				return 0, ErrReadTimeout
			}
			timer = time.NewTimer(wait)
			timeout = timer.C
		}

		select {
		case record := <-h.records:
			stopTimer(timer)
			return copy(b, record), nil
		case <-h.closed:
			stopTimer(timer)
			return 0, ErrConnClosed
		case <-timeout:
			return 0, ErrReadTimeout
		case <-changed:
			stopTimer(timer)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Write sends a record to the remote peer.
func (h *DTLSHandler) Write(b []byte) (int, error) {
	select {
	case <-h.closed:
		return 0, ErrConnClosed
	default:
	}

	if err := h.sender.Send(b, h.remote); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close stops reads and writes.
func (h *DTLSHandler) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}

// LocalAddr implements net.Conn.
func (h *DTLSHandler) LocalAddr() net.Addr { return h.local }

// RemoteAddr implements net.Conn.
func (h *DTLSHandler) RemoteAddr() net.Addr { return h.remote }

// SetDeadline implements net.Conn. Only the read side honours deadlines.
func (h *DTLSHandler) SetDeadline(t time.Time) error {
	return h.SetReadDeadline(t)
}

// SetReadDeadline implements net.Conn.
func (h *DTLSHandler) SetReadDeadline(t time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readDeadline = t
	close(h.deadlineChanged)
	h.deadlineChanged = make(chan struct{})
	return nil
}

// SetWriteDeadline implements net.Conn; writes never block.
func (h *DTLSHandler) SetWriteDeadline(time.Time) error {
	return nil
}

// Handshake runs the DTLS handshake over h and keys t from the result.
func Handshake(ctx context.Context, h *DTLSHandler, config *dtls.Config, isClient bool, t *SRTPTransport) (*dtls.Conn, error) {
	var (
		conn *dtls.Conn
		err  error
	)
	if isClient {
		conn, err = dtls.ClientWithContext(ctx, h, config)
	} else {
		conn, err = dtls.ServerWithContext(ctx, h, config)
	}
	if err != nil {
		return nil, fmt.Errorf("dtls handshake with %v: %w", h.remote, err)
	}

	if err := t.CompleteFromDTLS(conn, isClient); err != nil {
		conn.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "secure.Handshake",
		"remote":    h.remote,
		"is_client": isClient,
	}).Info("DTLS-SRTP handshake complete")

	return conn, nil
}
