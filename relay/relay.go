package relay

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspgw/handler"
	"github.com/opd-ai/rtspgw/limits"
	"github.com/opd-ai/rtspgw/transport"
)

// DefaultRTPPriority ranks RTP below RTCP and DTLS.
const DefaultRTPPriority = 10

var (
	// ErrNilStatistics indicates a handler created without statistics.
	ErrNilStatistics = errors.New("statistics cannot be nil")

	// ErrNilSender indicates a handler created without a sender.
	ErrNilSender = errors.New("sender cannot be nil")

	// ErrNotRTP indicates Handle received a datagram that fails the RTP probe.
	ErrNotRTP = errors.New("packet is not an RTP packet")
)

// Statistics is the media accounting the relay feeds.
type Statistics interface {
	OnRTPReceive(pkt *rtp.Packet) bool
}

// Unprotector removes SRTP protection from inbound media.
type Unprotector interface {
	IsHandshakeComplete() bool
	DecodeRTP(data []byte) ([]byte, error)
}

// Target is a downstream receiver of relayed media.
type Target struct {
	RTP  net.Addr
	RTCP net.Addr
}

// Counters is a snapshot of relay activity.
type Counters struct {
	Received     uint64
	Forwarded    uint64
	Dropped      uint64
	RTCPRelayed  uint64
	OutOfProfile uint64
}

// Config holds the static parameters of an RTPHandler.
type Config struct {
	SessionID string
	Priority  int
}

// RTPHandler parses inbound RTP, accounts for it and forwards it.
type RTPHandler struct {
	sessionID string
	priority  int
	stats     Statistics
	sender    transport.Sender

	mu      sync.RWMutex
	targets []Target
	secure  Unprotector

	received     atomic.Uint64
	forwarded    atomic.Uint64
	dropped      atomic.Uint64
	rtcpRelayed  atomic.Uint64
	outOfProfile atomic.Uint64
}

// NewRTPHandler creates a relay without targets.
func NewRTPHandler(config *Config, stats Statistics, sender transport.Sender) (*RTPHandler, error) {
	if stats == nil {
		return nil, ErrNilStatistics
	}
	if sender == nil {
		return nil, ErrNilSender
	}
	if config == nil {
		config = &Config{Priority: DefaultRTPPriority}
	}

	return &RTPHandler{
		sessionID: config.SessionID,
		priority:  config.Priority,
		stats:     stats,
		sender:    sender,
	}, nil
}

// IsRTP reports whether data looks like an RTP packet: version 2 and a
// payload type outside the range RTCP packet types map to once the marker
// bit is masked (RFC 5761 section 4).
func IsRTP(data []byte) bool {
	if len(data) < limits.MinRTPPacketSize {
		return false
	}
	if data[0]>>6 != 2 {
		return false
	}
	pt := data[1] & 0x7f
	return pt < 64 || pt > 95
}

// CanHandle implements the pipeline handler contract.
func (h *RTPHandler) CanHandle(data []byte) bool {
	return IsRTP(data)
}

// Priority implements the pipeline handler contract.
func (h *RTPHandler) Priority() int {
	return h.priority
}

// EnableSRTP makes the relay decrypt inbound media with u. Media arriving
// before u completes its handshake is dropped.
func (h *RTPHandler) EnableSRTP(u Unprotector) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.secure = u
}

// AddTarget adds a downstream receiver.
func (h *RTPHandler) AddTarget(t Target) {
	h.mu.Lock()
	defer h.mu.Unlock()

	targets := make([]Target, 0, len(h.targets)+1)
	targets = append(targets, h.targets...)
	h.targets = append(targets, t)
}

// RemoveTarget removes every target whose RTP address matches addr.
func (h *RTPHandler) RemoveTarget(addr net.Addr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := make([]Target, 0, len(h.targets))
	removed := false
	for _, t := range h.targets {
		if t.RTP != nil && addr != nil && t.RTP.String() == addr.String() {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	h.targets = kept
	return removed
}

// Targets returns a copy of the downstream receivers.
func (h *RTPHandler) Targets() []Target {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Target(nil), h.targets...)
}

// Counters returns the activity counters.
func (h *RTPHandler) Counters() Counters {
	return Counters{
		Received:     h.received.Load(),
		Forwarded:    h.forwarded.Load(),
		Dropped:      h.dropped.Load(),
		RTCPRelayed:  h.rtcpRelayed.Load(),
		OutOfProfile: h.outOfProfile.Load(),
	}
}

// Handle implements the pipeline handler contract. Media is never answered
// on the socket it arrived on, so the reply is always nil.
func (h *RTPHandler) Handle(data []byte, local, remote net.Addr) ([]byte, error) {
	if !IsRTP(data) {
		return nil, ErrNotRTP
	}
	h.received.Add(1)

	h.mu.RLock()
	sec := h.secure
	targets := h.targets
	h.mu.RUnlock()

	raw := data
	if sec != nil {
		if !sec.IsHandshakeComplete() {
			h.drop(remote, "secure handshake incomplete", nil)
			return nil, nil
		}
		plain, err := sec.DecodeRTP(data)
		if err != nil {
			h.drop(remote, "undecryptable SRTP packet", err)
			return nil, nil
		}
		raw = plain
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(raw); err != nil {
		h.drop(remote, "malformed RTP packet", err)
		return nil, nil
	}

	if !h.stats.OnRTPReceive(pkt) {
		h.outOfProfile.Add(1)
	}

	for _, t := range targets {
		if t.RTP == nil {
			continue
		}
		if err := h.sender.Send(raw, t.RTP); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "RTPHandler.Handle",
				"session_id": h.sessionID,
				"target":     t.RTP.String(),
				"error":      err.Error(),
			}).Warn("Failed to forward RTP packet")
			continue
		}
		h.forwarded.Add(1)
	}
	return nil, nil
}

// ForwardRTCP relays a received compound RTCP packet to every target. Its
// signature matches handler.ReceiveCallback.
func (h *RTPHandler) ForwardRTCP(info handler.Info) {
	h.mu.RLock()
	targets := h.targets
	h.mu.RUnlock()

	for _, t := range targets {
		if t.RTCP == nil {
			continue
		}
		if err := h.sender.Send(info.Raw, t.RTCP); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "RTPHandler.ForwardRTCP",
				"session_id": h.sessionID,
				"target":     t.RTCP.String(),
				"error":      err.Error(),
			}).Warn("Failed to forward RTCP packet")
			continue
		}
		h.rtcpRelayed.Add(1)
	}
}

func (h *RTPHandler) drop(remote net.Addr, reason string, err error) {
	h.dropped.Add(1)

	fields := logrus.Fields{
		"function":   "RTPHandler.Handle",
		"session_id": h.sessionID,
		"reason":     reason,
	}
	if remote != nil {
		fields["remote"] = remote.String()
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Warn("Dropping RTP packet")
}
