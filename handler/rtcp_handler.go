package handler

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspgw/limits"
	"github.com/opd-ai/rtspgw/rtcp"
	"github.com/opd-ai/rtspgw/scheduler"
	"github.com/opd-ai/rtspgw/secure"
	"github.com/opd-ai/rtspgw/transport"
)

// DefaultRTCPPriority places RTCP ahead of RTP, whose first byte range it shares.
const DefaultRTCPPriority = 20

// DefaultSweepPeriod is the period of the sender timeout sweep.
const DefaultSweepPeriod = 7000 * time.Millisecond

// Statistics is the session accounting an RTCPHandler drives.
type Statistics interface {
	ReportSource

	CurrentTime() int64
	RTCPInterval(initial bool) int64
	ResetMembers()
	ClearSenders()
	ConfirmMembers()
	OnRTCPSent(p *rtcp.CompoundPacket)
	OnRTCPSentRaw(size int)
	OnRTCPReceive(p *rtcp.CompoundPacket)
	IsSenderTimeout() bool
	Members() int
	PMembers() int
	SetRTCPPacketType(t rtcp.PacketType)
	SetRTCPAvgSize(size int)
}

// Info describes a received compound packet.
type Info struct {
	SessionID string
	Packet    *rtcp.CompoundPacket
	// Raw is the decrypted wire form of Packet.
	Raw    []byte
	Local  net.Addr
	Remote net.Addr
	Audio  bool
}

// ReceiveCallback observes received compound packets.
type ReceiveCallback func(info Info)

// Config holds the static parameters of an RTCPHandler.
type Config struct {
	// ID names the session; empty means generate one.
	ID       string
	Priority int
	// Audio marks the session as carrying audio, reported in Info.
	Audio       bool
	SweepPeriod time.Duration
	// ByeReason is sent in the BYE on leave.
	ByeReason string
}

// DefaultConfig returns the default handler configuration.
func DefaultConfig() *Config {
	return &Config{
		Priority:    DefaultRTCPPriority,
		SweepPeriod: DefaultSweepPeriod,
	}
}

// RTCPHandler is the RTCP state machine of one RTP session. It is also the
// pipeline handler receiving that session's RTCP.
type RTCPHandler struct {
	id          string
	priority    int
	audio       bool
	sweepPeriod time.Duration
	byeReason   string

	stats     Statistics
	scheduler scheduler.Scheduler
	registry  *Registry
	sender    transport.Sender

	joined atomic.Bool

	mu            sync.Mutex
	remote        net.Addr
	tp            int64
	tn            int64
	initial       bool
	scheduledType rtcp.PacketType
	generation    uint64
	reportFuture  scheduler.Future
	sweepFuture   scheduler.Future
	secure        secure.Transport
	onReceive     ReceiveCallback
}

// NewRTCPHandler creates a detached session handler and registers it.
func NewRTCPHandler(config *Config, stats Statistics, sched scheduler.Scheduler, registry *Registry, sender transport.Sender, remote net.Addr) (*RTCPHandler, error) {
	if config == nil {
		config = DefaultConfig()
	}
	switch {
	case stats == nil:
		return nil, ErrNilStatistics
	case sched == nil:
		return nil, ErrNilScheduler
	case sender == nil:
		return nil, ErrNilSender
	case remote == nil:
		return nil, ErrNilRemote
	}
	if registry == nil {
		registry = NewRegistry()
	}

	id := config.ID
	if id == "" {
		id = uuid.NewString()
	}
	sweepPeriod := config.SweepPeriod
	if sweepPeriod <= 0 {
		sweepPeriod = DefaultSweepPeriod
	}

	h := &RTCPHandler{
		id:          id,
		priority:    config.Priority,
		audio:       config.Audio,
		sweepPeriod: sweepPeriod,
		byeReason:   config.ByeReason,
		stats:       stats,
		scheduler:   sched,
		registry:    registry,
		sender:      sender,
		remote:      remote,
		tn:          -1,
		initial:     true,
	}

	if err := registry.Register(h); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewRTCPHandler",
		"session_id": id,
		"remote":     remote.String(),
		"audio":      config.Audio,
	}).Debug("Created RTCP session handler")

	return h, nil
}

// ID returns the session id.
func (h *RTCPHandler) ID() string {
	return h.id
}

// Priority implements the pipeline handler contract.
func (h *RTCPHandler) Priority() int {
	return h.priority
}

// CanHandle implements the pipeline handler contract.
func (h *RTCPHandler) CanHandle(data []byte) bool {
	return rtcp.CanHandle(data)
}

// Remote returns the peer RTCP address.
func (h *RTCPHandler) Remote() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remote
}

// SetRemote redirects outgoing RTCP to addr. A nil addr is ignored.
func (h *RTCPHandler) SetRemote(addr net.Addr) {
	if addr == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remote = addr
}

// IsJoined reports whether the session is joined.
func (h *RTCPHandler) IsJoined() bool {
	return h.joined.Load()
}

// IsSecure reports whether SRTCP is enabled.
func (h *RTCPHandler) IsSecure() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.secure != nil
}

// EnableSRTCP routes all RTCP through t. Traffic is refused until t reports
// a completed handshake.
func (h *RTCPHandler) EnableSRTCP(t secure.Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.secure = t
}

// DisableSRTCP returns the session to plain RTCP.
func (h *RTCPHandler) DisableSRTCP() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.secure = nil
}

// SetReceiveCallback registers cb, replacing any previous callback. A nil
// cb removes it.
func (h *RTCPHandler) SetReceiveCallback(cb ReceiveCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReceive = cb
}

// JoinRTPSession arms the first report timer and the sender timeout sweep.
// Joining a joined session has no effect.
func (h *RTCPHandler) JoinRTPSession() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.joined.Load() {
		return
	}

	now := h.stats.CurrentTime()
	t := h.stats.RTCPInterval(h.initial)
	h.tn = now + t
	h.scheduleLocked(rtcp.PacketTypeReport, t)

	if h.sweepFuture != nil {
		h.sweepFuture.Cancel()
	}
	id, registry := h.id, h.registry
	h.sweepFuture = h.scheduler.ScheduleWithFixedDelay(func() { registry.Sweep(id) }, h.sweepPeriod, h.sweepPeriod)

	h.joined.Store(true)

	logrus.WithFields(logrus.Fields{
		"function":   "RTCPHandler.JoinRTPSession",
		"session_id": h.id,
		"tn":         h.tn,
		"interval":   t,
	}).Debug("Joined RTP session")
}

// LeaveRTPSession cancels pending reports and sends a BYE before
// returning. Leaving a detached session has no effect.
func (h *RTCPHandler) LeaveRTPSession() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.joined.Load() {
		return
	}

	h.joined.Store(false)
	h.tp = h.stats.CurrentTime()

	h.stats.ResetMembers()
	h.stats.ClearSenders()

	h.cancelTimersLocked()
	h.scheduledType = rtcp.PacketTypeBye
	h.stats.SetRTCPPacketType(rtcp.PacketTypeBye)

	bye := BuildBye(h.stats, h.byeReason)
	h.stats.SetRTCPAvgSize(bye.MarshalSize())
	if err := h.transmitLocked(bye, true); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "RTCPHandler.LeaveRTPSession",
			"session_id": h.id,
			"error":      err.Error(),
		}).Error("Failed to send BYE")
	}
	h.initial = true
	h.tn = -1

	logrus.WithFields(logrus.Fields{
		"function":   "RTCPHandler.LeaveRTPSession",
		"session_id": h.id,
		"tp":         h.tp,
	}).Debug("Left RTP session")
}

// NextScheduledReport returns the milliseconds until the next scheduled
// transmission, or -1 if none is scheduled or it is overdue.
func (h *RTCPHandler) NextScheduledReport() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.tn < 0 {
		return -1
	}
	delay := h.tn - h.stats.CurrentTime()
	if delay < 0 {
		return -1
	}
	return delay
}

// ScheduleBye replaces the report timer with an immediate BYE task.
func (h *RTCPHandler) ScheduleBye() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.joined.Load() {
		return
	}

	if h.reportFuture != nil {
		h.reportFuture.Cancel()
	}
	h.generation++
	h.scheduledType = rtcp.PacketTypeBye
	h.stats.SetRTCPPacketType(rtcp.PacketTypeBye)

	task := Task{SessionID: h.id, PacketType: rtcp.PacketTypeBye, Generation: h.generation}
	registry := h.registry
	h.reportFuture = h.scheduler.Submit(func() { registry.Run(task) })
}

// scheduleLocked replaces the pending timer with a new one firing after
// delay milliseconds.
func (h *RTCPHandler) scheduleLocked(packetType rtcp.PacketType, delay int64) {
	if h.reportFuture != nil {
		h.reportFuture.Cancel()
	}
	if delay < 0 {
		delay = 0
	}

	h.generation++
	h.scheduledType = packetType
	h.stats.SetRTCPPacketType(packetType)

	task := Task{SessionID: h.id, PacketType: packetType, Generation: h.generation}
	registry := h.registry
	h.reportFuture = h.scheduler.Schedule(func() { registry.Run(task) }, time.Duration(delay)*time.Millisecond)
}

func (h *RTCPHandler) cancelTimersLocked() {
	if h.reportFuture != nil {
		h.reportFuture.Cancel()
		h.reportFuture = nil
	}
	if h.sweepFuture != nil {
		h.sweepFuture.Cancel()
		h.sweepFuture = nil
	}
	h.generation++
}

// onExpire runs a fired timer task.
func (h *RTCPHandler) onExpire(task Task) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if task.Generation != h.generation {
		logrus.WithFields(logrus.Fields{
			"function": "RTCPHandler.onExpire",
			"task":     task.String(),
			"current":  h.generation,
		}).Trace("Discarding superseded timer task")
		return
	}

	switch task.PacketType {
	case rtcp.PacketTypeReport:
		h.expireReportLocked()
	case rtcp.PacketTypeBye:
		h.expireByeLocked()
	}
}

func (h *RTCPHandler) expireReportLocked() {
	if !h.joined.Load() {
		return
	}

	tc := h.stats.CurrentTime()
	t := h.stats.RTCPInterval(h.initial)
	h.tn = h.tp + t

	if h.tn <= tc {
		report := BuildReport(h.stats)
		if err := h.transmitLocked(report, false); err != nil {
			h.failLocked("report", err)
			return
		}
		h.tp = tc

		t = h.stats.RTCPInterval(h.initial)
		h.tn = tc + t
	}

	h.scheduleLocked(rtcp.PacketTypeReport, h.tn-tc)
	h.stats.ConfirmMembers()

	logrus.WithFields(logrus.Fields{
		"function":   "RTCPHandler.expireReportLocked",
		"session_id": h.id,
		"tp":         h.tp,
		"tn":         h.tn,
	}).Trace("Report timer expired")
}

func (h *RTCPHandler) expireByeLocked() {
	h.tn = h.tp

	bye := BuildBye(h.stats, h.byeReason)
	h.stats.SetRTCPAvgSize(bye.MarshalSize())

	if err := h.transmitLocked(bye, true); err != nil {
		h.failLocked("bye", err)
	}
}

// failLocked detaches and resets the session after a fatal send error.
func (h *RTCPHandler) failLocked(op string, err error) {
	logrus.WithFields(logrus.Fields{
		"function":   "RTCPHandler.failLocked",
		"session_id": h.id,
		"op":         op,
		"error":      err.Error(),
	}).Error("RTCP transmission failed, resetting session")

	h.joined.Store(false)
	h.resetLocked()
}

// transmitLocked encodes, protects and sends p, then accounts for it.
func (h *RTCPHandler) transmitLocked(p *rtcp.CompoundPacket, bypassJoined bool) error {
	raw, err := p.Marshal()
	if err != nil {
		return newSessionError("encode", h.id, err)
	}

	sent, err := h.sendLocked(raw, bypassJoined)
	if err != nil || !sent {
		return err
	}
	h.initial = false
	h.stats.OnRTCPSent(p)
	return nil
}

// sendLocked protects and sends raw. Sending while detached (unless
// bypassJoined), before the secure handshake completes, or on a closed
// transport is a silent no-op reported as sent == false.
func (h *RTCPHandler) sendLocked(raw []byte, bypassJoined bool) (bool, error) {
	if !bypassJoined && !h.joined.Load() {
		logrus.WithFields(logrus.Fields{
			"function":   "RTCPHandler.sendLocked",
			"session_id": h.id,
		}).Debug("Not joined, RTCP packet not sent")
		return false, nil
	}
	if h.secure != nil && !h.secure.IsHandshakeComplete() {
		logrus.WithFields(logrus.Fields{
			"function":   "RTCPHandler.sendLocked",
			"session_id": h.id,
		}).Debug("Secure handshake incomplete, RTCP packet not sent")
		return false, nil
	}
	if err := limits.ValidateRTCPPacket(raw); err != nil {
		return false, newSessionError("validate", h.id, err)
	}

	out := raw
	if h.secure != nil {
		protected, err := h.secure.EncodeRTCP(raw)
		if err != nil {
			return false, newSessionError("protect", h.id, err)
		}
		out = protected
	}

	if err := h.sender.Send(out, h.remote); err != nil {
		if errors.Is(err, transport.ErrTransportClosed) {
			logrus.WithFields(logrus.Fields{
				"function":   "RTCPHandler.sendLocked",
				"session_id": h.id,
			}).Debug("Transport closed, RTCP packet not sent")
			return false, nil
		}
		return false, newSessionError("send", h.id, fmt.Errorf("to %s: %w", h.remote, err))
	}
	return true, nil
}

// SendRTCPPacket sends p to the peer outside the report schedule.
func (h *RTCPHandler) SendRTCPPacket(p *rtcp.CompoundPacket) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transmitLocked(p, false)
}

// SendRTCPRawPacket sends an already encoded compound packet.
func (h *RTCPHandler) SendRTCPRawPacket(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent, err := h.sendLocked(data, false)
	if err != nil || !sent {
		return err
	}
	h.initial = false
	h.stats.OnRTCPSentRaw(len(data))
	return nil
}

// Handle processes one inbound RTCP datagram. Malformed or undecryptable
// packets are dropped with a warning; only a datagram failing the RTCP
// probe is reported as an error.
func (h *RTCPHandler) Handle(data []byte, local, remote net.Addr) ([]byte, error) {
	h.mu.Lock()
	sec := h.secure
	cb := h.onReceive
	h.mu.Unlock()

	if !h.joined.Load() {
		return nil, nil
	}
	if sec != nil && !sec.IsHandshakeComplete() {
		return nil, nil
	}
	if !rtcp.CanHandle(data) {
		return nil, newSessionError("handle", h.id, ErrCannotHandle)
	}

	raw := data
	if sec != nil {
		plain, err := sec.DecodeRTCP(data)
		if err != nil || len(plain) == 0 {
			logrus.WithFields(logrus.Fields{
				"function":   "RTCPHandler.Handle",
				"session_id": h.id,
				"remote":     addrString(remote),
				"error":      errString(err),
			}).Warn("Dropping undecryptable SRTCP packet")
			return nil, nil
		}
		raw = plain
	}

	packet := &rtcp.CompoundPacket{}
	if err := packet.Unmarshal(raw); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "RTCPHandler.Handle",
			"session_id": h.id,
			"remote":     addrString(remote),
			"error":      err.Error(),
		}).Warn("Dropping malformed RTCP packet")
		return nil, nil
	}

	if cb != nil {
		cb(Info{
			SessionID: h.id,
			Packet:    packet,
			Raw:       raw,
			Local:     local,
			Remote:    remote,
			Audio:     h.audio,
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.joined.Load() {
		return nil, nil
	}

	h.stats.OnRTCPReceive(packet)

	if packet.HasBye() && h.scheduledType == rtcp.PacketTypeReport {
		h.reconsiderLocked()
	}
	return nil, nil
}

// reconsiderLocked pulls the next report closer after members left the
// session (RFC 3550 section 6.3.4).
func (h *RTCPHandler) reconsiderLocked() {
	members, pmembers := h.stats.Members(), h.stats.PMembers()
	if members >= pmembers || pmembers == 0 {
		return
	}

	tc := h.stats.CurrentTime()
	ratio := float64(members) / float64(pmembers)
	h.tn = tc + int64(ratio*float64(h.tn-tc))
	h.tp = tc - int64(ratio*float64(tc-h.tp))

	h.scheduleLocked(rtcp.PacketTypeReport, h.tn-tc)
	h.stats.ConfirmMembers()

	logrus.WithFields(logrus.Fields{
		"function":   "RTCPHandler.reconsiderLocked",
		"session_id": h.id,
		"members":    members,
		"pmembers":   pmembers,
		"tn":         h.tn,
	}).Debug("Applied reverse reconsideration")
}

// Reset returns a detached session to its initial state and drops the
// secure transport.
func (h *RTCPHandler) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.joined.Load() {
		return newSessionError("reset", h.id, ErrResetWhileJoined)
	}
	h.resetLocked()
	return nil
}

func (h *RTCPHandler) resetLocked() {
	h.cancelTimersLocked()
	h.tp = 0
	h.tn = -1
	h.initial = true
	h.secure = nil
}

// sweep checks for timed out senders and members.
func (h *RTCPHandler) sweep() {
	if !h.joined.Load() {
		return
	}
	if h.stats.IsSenderTimeout() {
		logrus.WithFields(logrus.Fields{
			"function":   "RTCPHandler.sweep",
			"session_id": h.id,
			"members":    h.stats.Members(),
		}).Debug("Timed out inactive participants")
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

func errString(err error) string {
	if err == nil {
		return "empty payload"
	}
	return err.Error()
}
