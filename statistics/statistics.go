package statistics

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	pionrtcp "github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspgw/rtcp"
)

const (
	// DefaultSessionBandwidth is the assumed session bandwidth in bits per second.
	DefaultSessionBandwidth = 512_000

	// DefaultRTCPFraction is the share of session bandwidth given to RTCP.
	DefaultRTCPFraction = 0.05

	// DefaultClockRate is the RTP clock rate used for jitter when none is configured.
	DefaultClockRate = 90000

	// initialAvgRTCPSize seeds the running average before any packet is seen.
	initialAvgRTCPSize = 128
)

// Config holds the static parameters of a Statistics instance.
type Config struct {
	// SSRC is the local synchronization source; zero means generate one.
	SSRC uint32
	// CNAME is the local canonical name; empty means generate one.
	CNAME string
	// SessionBandwidth is the total session bandwidth in bits per second.
	SessionBandwidth float64
	// RTCPFraction is the fraction of SessionBandwidth available to RTCP.
	RTCPFraction float64
	// ClockRate is the RTP timestamp clock rate of the media.
	ClockRate uint32
}

// DefaultConfig returns a configuration with RFC 3550 recommended values.
func DefaultConfig() *Config {
	return &Config{
		SessionBandwidth: DefaultSessionBandwidth,
		RTCPFraction:     DefaultRTCPFraction,
		ClockRate:        DefaultClockRate,
	}
}

// Statistics is the RTP/RTCP accounting of one session.
type Statistics struct {
	mu           sync.Mutex
	timeProvider TimeProvider
	random       func() float64

	ssrc      uint32
	cname     string
	clockRate uint32
	// rtcpBandwidth is in octets per second.
	rtcpBandwidth float64

	members        int
	pmembers       int
	senders        int
	avgRTCPSize    float64
	weSent         bool
	rtcpPacketType rtcp.PacketType
	lastRTCPSent   time.Time
	lastRTCPRecv   time.Time

	// local sender counters
	packetsSent   uint32
	octetsSent    uint32
	lastRTPStamp  uint32
	lastRTPSentAt time.Time

	// round trip estimate from reports about our SSRC
	rtt time.Duration

	table map[uint32]*Member
}

// New creates the statistics of a freshly joined session: one member (the
// local participant), no senders.
func New(config *Config) *Statistics {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Statistics{
		random:        rand.Float64,
		ssrc:          config.SSRC,
		cname:         config.CNAME,
		clockRate:     config.ClockRate,
		rtcpBandwidth: config.SessionBandwidth * config.RTCPFraction / 8,
		members:       1,
		pmembers:      1,
		avgRTCPSize:   initialAvgRTCPSize,
		table:         make(map[uint32]*Member),
	}
	if s.ssrc == 0 {
		s.ssrc = GenerateSSRC()
	}
	if s.cname == "" {
		s.cname = GenerateCNAME()
	}
	if s.clockRate == 0 {
		s.clockRate = DefaultClockRate
	}

	logrus.WithFields(logrus.Fields{
		"function":       "statistics.New",
		"ssrc":           s.ssrc,
		"cname":          s.cname,
		"rtcp_bandwidth": s.rtcpBandwidth,
	}).Debug("Created RTP statistics")

	return s
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (s *Statistics) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeProvider = tp
}

// SetRandom replaces the uniform [0, 1) source used to randomize intervals.
func (s *Statistics) SetRandom(r func() float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		r = rand.Float64
	}
	s.random = r
}

func (s *Statistics) now() time.Time {
	return getTimeProvider(s.timeProvider).Now()
}

// CurrentTime returns the current time in milliseconds.
func (s *Statistics) CurrentTime() int64 {
	return s.now().UnixMilli()
}

func (s *Statistics) intervalParams(initial bool) IntervalParams {
	return IntervalParams{
		Members:   s.members,
		Senders:   s.senders,
		Bandwidth: s.rtcpBandwidth,
		AvgSize:   s.avgRTCPSize,
		WeSent:    s.weSent,
		Initial:   initial,
	}
}

// RTCPInterval draws a new randomized report interval in milliseconds.
// Every call draws independently.
func (s *Statistics) RTCPInterval(initial bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RandomizedInterval(s.intervalParams(initial), s.random).Milliseconds()
}

// ResetMembers returns the membership to the just joined shape.
func (s *Statistics) ResetMembers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.members = 1
	s.pmembers = 1
	s.table = make(map[uint32]*Member)
}

// ClearSenders forgets every sender, including the local one.
func (s *Statistics) ClearSenders() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.table {
		m.sender = false
	}
	s.senders = 0
	s.weSent = false
}

// ConfirmMembers records the current member count as pmembers.
func (s *Statistics) ConfirmMembers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pmembers = s.members
}

// Members returns the current member count including the local participant.
func (s *Statistics) Members() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members
}

// PMembers returns the member count at the last confirmation.
func (s *Statistics) PMembers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pmembers
}

// Senders returns the number of active senders including the local one.
func (s *Statistics) Senders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.senders
}

// WeSent reports whether the local participant sent RTP recently.
func (s *Statistics) WeSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weSent
}

// AvgRTCPSize returns the running average compound RTCP size in octets.
func (s *Statistics) AvgRTCPSize() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avgRTCPSize
}

// SetRTCPAvgSize overrides the running average, used when a BYE is sent.
func (s *Statistics) SetRTCPAvgSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avgRTCPSize = float64(size)
}

// RTCPPacketType returns the type of the next scheduled transmission.
func (s *Statistics) RTCPPacketType() rtcp.PacketType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtcpPacketType
}

// SetRTCPPacketType records the type of the next scheduled transmission.
func (s *Statistics) SetRTCPPacketType(t rtcp.PacketType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rtcpPacketType = t
}

// SSRC returns the local synchronization source.
func (s *Statistics) SSRC() uint32 {
	return s.ssrc
}

// CNAME returns the local canonical name.
func (s *Statistics) CNAME() string {
	return s.cname
}

// RoundTripTime returns the last round trip estimate derived from a report
// block about the local SSRC, or zero if none was received.
func (s *Statistics) RoundTripTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtt
}

func (s *Statistics) updateAvgSize(size int) {
	s.avgRTCPSize = float64(size)/16 + s.avgRTCPSize*15/16
}

// member returns the entry for ssrc, creating it and counting a new member
// if needed. The local SSRC is never entered in the table.
func (s *Statistics) member(ssrc uint32, now time.Time) *Member {
	if m, ok := s.table[ssrc]; ok {
		return m
	}
	m := newMember(ssrc, s.clockRate, now)
	s.table[ssrc] = m
	s.members++
	return m
}

func (s *Statistics) markSender(m *Member, now time.Time) {
	m.lastRTP = now
	if !m.sender {
		m.sender = true
		s.senders++
	}
}

func (s *Statistics) removeMember(ssrc uint32) bool {
	m, ok := s.table[ssrc]
	if !ok {
		return false
	}
	if m.sender {
		s.senders--
	}
	delete(s.table, ssrc)
	if s.members > 1 {
		s.members--
	}
	return true
}

// OnRTCPSent updates the average packet size after a successful send.
func (s *Statistics) OnRTCPSent(p *rtcp.CompoundPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastRTCPSent = s.now()
	if p != nil && p.Size() > 0 {
		s.updateAvgSize(p.Size())
	}
}

// OnRTCPSentRaw updates the average packet size after sending size octets
// that were not built from a CompoundPacket.
func (s *Statistics) OnRTCPSentRaw(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastRTCPSent = s.now()
	if size > 0 {
		s.updateAvgSize(size)
	}
}

// OnRTCPReceive applies an inbound compound packet: membership, sender info,
// SDES names and BYE departures.
func (s *Statistics) OnRTCPReceive(p *rtcp.CompoundPacket) {
	if p == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.lastRTCPRecv = now
	if p.Size() > 0 {
		s.updateAvgSize(p.Size())
	}

	if sr := p.SenderReport; sr != nil && sr.SSRC != s.ssrc {
		m := s.member(sr.SSRC, now)
		m.lastHeard = now
		m.lastSR = MiddleNTP(sr.NTPTime)
		m.lastSRReceived = now
		m.senderPackets = sr.PacketCount
		m.senderOctets = sr.OctetCount
		s.markSender(m, now)
		s.applyReportBlocks(sr.Reports, now)
	}

	if rr := p.ReceiverReport; rr != nil && rr.SSRC != s.ssrc {
		m := s.member(rr.SSRC, now)
		m.lastHeard = now
		s.applyReportBlocks(rr.Reports, now)
	}

	if sdes := p.SourceDescription; sdes != nil {
		for _, chunk := range sdes.Chunks {
			if chunk.Source == s.ssrc {
				continue
			}
			m := s.member(chunk.Source, now)
			m.lastHeard = now
			for _, item := range chunk.Items {
				if item.Type == pionrtcp.SDESCNAME {
					m.CNAME = item.Text
				}
			}
		}
	}

	if bye := p.Goodbye; bye != nil {
		for _, ssrc := range bye.Sources {
			if s.removeMember(ssrc) {
				logrus.WithFields(logrus.Fields{
					"function": "Statistics.OnRTCPReceive",
					"ssrc":     ssrc,
					"reason":   bye.Reason,
					"members":  s.members,
				}).Debug("Member left session")
			}
		}
	}
}

// applyReportBlocks derives the round trip time from blocks about the local SSRC.
func (s *Statistics) applyReportBlocks(reports []pionrtcp.ReceptionReport, now time.Time) {
	for _, r := range reports {
		if r.SSRC != s.ssrc || r.LastSenderReport == 0 {
			continue
		}
		// RFC 3550 section 6.4.1: A - LSR - DLSR in 1/65536 s
		arrival := MiddleNTP(ToNTP(now))
		rtt := arrival - r.LastSenderReport - r.Delay
		if int32(rtt) >= 0 {
			s.rtt = time.Duration(uint64(rtt) * uint64(time.Second) >> 16)
		}
	}
}

// OnRTPReceive records an inbound media packet from pkt.SSRC and reports
// whether it passed sequence validation.
func (s *Statistics) OnRTPReceive(pkt *rtp.Packet) bool {
	if pkt == nil || pkt.SSRC == s.ssrc {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m := s.member(pkt.SSRC, now)
	m.lastHeard = now

	if !m.updateSeq(pkt.SequenceNumber) {
		return false
	}
	m.updateJitter(pkt.Timestamp, now)
	s.markSender(m, now)
	return true
}

// OnRTPSent records a media packet sent under the local SSRC.
func (s *Statistics) OnRTPSent(pkt *rtp.Packet) {
	if pkt == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.packetsSent++
	s.octetsSent += uint32(len(pkt.Payload))
	s.lastRTPStamp = pkt.Timestamp
	s.lastRTPSentAt = s.now()
	if !s.weSent {
		s.weSent = true
		s.senders++
	}
}

// IsSenderTimeout runs the RFC 3550 section 6.3.5 timeout sweep. Senders
// silent for two report intervals stop counting as senders and members
// silent for five deterministic intervals are removed. It reports whether
// any sender or member timed out.
func (s *Statistics) IsSenderTimeout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	td := DeterministicInterval(s.intervalParams(false))
	senderLimit := now.Add(-SenderTimeoutMultiplier * td)
	memberLimit := now.Add(-MemberTimeoutMultiplier * td)

	timedOut := false

	if s.weSent && s.lastRTPSentAt.Before(senderLimit) {
		s.weSent = false
		s.senders--
		timedOut = true
	}

	for ssrc, m := range s.table {
		if m.lastHeard.Before(memberLimit) {
			s.removeMember(ssrc)
			timedOut = true
			continue
		}
		if m.sender && m.lastRTP.Before(senderLimit) {
			m.sender = false
			s.senders--
			timedOut = true
		}
	}

	if timedOut {
		logrus.WithFields(logrus.Fields{
			"function": "Statistics.IsSenderTimeout",
			"members":  s.members,
			"senders":  s.senders,
		}).Debug("Timed out inactive participants")
	}

	return timedOut
}

// SenderReport builds a sender report for the local SSRC, with one
// reception report block per active remote sender.
func (s *Statistics) SenderReport() *pionrtcp.SenderReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rtpTime := s.lastRTPStamp
	if !s.lastRTPSentAt.IsZero() {
		elapsed := now.Sub(s.lastRTPSentAt)
		rtpTime += uint32(uint64(elapsed) * uint64(s.clockRate) / uint64(time.Second))
	}

	return &pionrtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     ToNTP(now),
		RTPTime:     rtpTime,
		PacketCount: s.packetsSent,
		OctetCount:  s.octetsSent,
		Reports:     s.receptionReports(now),
	}
}

// ReceiverReport builds a receiver report for the local SSRC.
func (s *Statistics) ReceiverReport() *pionrtcp.ReceiverReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &pionrtcp.ReceiverReport{
		SSRC:    s.ssrc,
		Reports: s.receptionReports(s.now()),
	}
}

func (s *Statistics) receptionReports(now time.Time) []pionrtcp.ReceptionReport {
	ssrcs := make([]uint32, 0, len(s.table))
	for ssrc, m := range s.table {
		if m.sender && m.received > 0 {
			ssrcs = append(ssrcs, ssrc)
		}
	}
	sort.Slice(ssrcs, func(i, j int) bool { return ssrcs[i] < ssrcs[j] })
	if len(ssrcs) > rtcp.MaxSources {
		ssrcs = ssrcs[:rtcp.MaxSources]
	}

	reports := make([]pionrtcp.ReceptionReport, 0, len(ssrcs))
	for _, ssrc := range ssrcs {
		reports = append(reports, s.table[ssrc].receptionReport(now))
	}
	return reports
}

// Member returns a snapshot of the accounting for ssrc.
func (s *Statistics) Member(ssrc uint32) (MemberSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.table[ssrc]
	if !ok {
		return MemberSnapshot{}, false
	}
	return m.snapshot(), true
}
