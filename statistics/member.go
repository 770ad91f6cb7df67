package statistics

import (
	"time"

	pionrtcp "github.com/pion/rtcp"
)

// RFC 3550 appendix A.1 sequence number validation constants.
const (
	seqMod        = 1 << 16
	maxDropout    = 3000
	maxMisorder   = 100
	minSequential = 2
)

// Member is the state kept for one remote synchronization source.
type Member struct {
	SSRC  uint32
	CNAME string

	lastHeard time.Time
	lastRTP   time.Time
	sender    bool

	// sequence accounting, RFC 3550 A.1
	seqStarted    bool
	maxSeq        uint16
	cycles        uint32
	baseSeq       uint32
	badSeq        uint32
	probation     int
	received      uint32
	expectedPrior uint32
	receivedPrior uint32

	// interarrival jitter, RFC 3550 A.8
	clockRate   uint32
	transit     uint32
	haveTransit bool
	jitter      float64

	// last sender report, for LSR/DLSR
	lastSR         uint32
	lastSRReceived time.Time
	senderPackets  uint32
	senderOctets   uint32
}

// MemberSnapshot is a read-only copy of a member's accounting.
type MemberSnapshot struct {
	SSRC      uint32
	CNAME     string
	LastHeard time.Time
	Sender    bool
	Received  uint32
	Lost      int32
	Jitter    uint32
	// ExtendedMaxSeq is the highest sequence number seen, with wrap count.
	ExtendedMaxSeq uint32
	// SenderPackets and SenderOctets are the counters of the last SR.
	SenderPackets uint32
	SenderOctets  uint32
}

func newMember(ssrc uint32, clockRate uint32, now time.Time) *Member {
	return &Member{
		SSRC:      ssrc,
		lastHeard: now,
		clockRate: clockRate,
		badSeq:    seqMod + 1,
		probation: minSequential,
	}
}

func (m *Member) initSeq(seq uint16) {
	m.baseSeq = uint32(seq)
	m.maxSeq = seq
	m.badSeq = seqMod + 1
	m.cycles = 0
	m.received = 0
	m.receivedPrior = 0
	m.expectedPrior = 0
}

// updateSeq applies one sequence number and reports whether the packet is
// valid for statistics.
func (m *Member) updateSeq(seq uint16) bool {
	if !m.seqStarted {
		m.initSeq(seq)
		m.maxSeq = seq - 1
		m.probation = minSequential
		m.seqStarted = true
	}

	udelta := seq - m.maxSeq

	if m.probation > 0 {
		if seq == m.maxSeq+1 {
			m.probation--
			m.maxSeq = seq
			if m.probation == 0 {
				m.initSeq(seq)
				m.received++
				return true
			}
		} else {
			m.probation = minSequential - 1
			m.maxSeq = seq
		}
		return false
	}

	switch {
	case udelta < maxDropout:
		if seq < m.maxSeq {
			m.cycles += seqMod
		}
		m.maxSeq = seq
	case uint32(udelta) <= seqMod-maxMisorder:
		if uint32(seq) == m.badSeq {
			// two sequential packets after a jump: the source restarted
			m.initSeq(seq)
		} else {
			m.badSeq = (uint32(seq) + 1) & (seqMod - 1)
			return false
		}
	default:
		// duplicate or reordered
	}

	m.received++
	return true
}

// updateJitter folds one packet's transit time into the jitter estimate.
func (m *Member) updateJitter(rtpTimestamp uint32, arrival time.Time) {
	if m.clockRate == 0 {
		return
	}

	units := uint64(arrival.Unix())*uint64(m.clockRate) +
		uint64(arrival.Nanosecond())*uint64(m.clockRate)/uint64(time.Second)
	transit := uint32(units) - rtpTimestamp

	if m.haveTransit {
		d := int32(transit - m.transit)
		if d < 0 {
			d = -d
		}
		m.jitter += (float64(d) - m.jitter) / 16
	}
	m.transit = transit
	m.haveTransit = true
}

func (m *Member) extendedMax() uint32 {
	return m.cycles + uint32(m.maxSeq)
}

func (m *Member) cumulativeLost() int32 {
	if m.received == 0 {
		return 0
	}
	expected := m.extendedMax() - m.baseSeq + 1
	lost := int64(expected) - int64(m.received)
	// 24 bit signed field
	if lost > 0x7fffff {
		lost = 0x7fffff
	} else if lost < -0x800000 {
		lost = -0x800000
	}
	return int32(lost)
}

// receptionReport builds the report block for this source and advances the
// interval counters used for the fraction lost.
func (m *Member) receptionReport(now time.Time) pionrtcp.ReceptionReport {
	expected := m.extendedMax() - m.baseSeq + 1
	expectedInterval := expected - m.expectedPrior
	m.expectedPrior = expected
	receivedInterval := m.received - m.receivedPrior
	m.receivedPrior = m.received

	var fraction uint8
	lostInterval := int64(expectedInterval) - int64(receivedInterval)
	if expectedInterval != 0 && lostInterval > 0 {
		fraction = uint8((lostInterval << 8) / int64(expectedInterval))
	}

	var dlsr uint32
	if !m.lastSRReceived.IsZero() {
		dlsr = toCompactDuration(now.Sub(m.lastSRReceived))
	}

	return pionrtcp.ReceptionReport{
		SSRC:               m.SSRC,
		FractionLost:       fraction,
		TotalLost:          uint32(m.cumulativeLost()) & 0xffffff,
		LastSequenceNumber: m.extendedMax(),
		Jitter:             uint32(m.jitter),
		LastSenderReport:   m.lastSR,
		Delay:              dlsr,
	}
}

func (m *Member) snapshot() MemberSnapshot {
	return MemberSnapshot{
		SSRC:           m.SSRC,
		CNAME:          m.CNAME,
		LastHeard:      m.lastHeard,
		Sender:         m.sender,
		Received:       m.received,
		Lost:           m.cumulativeLost(),
		Jitter:         uint32(m.jitter),
		ExtendedMaxSeq: m.extendedMax(),
		SenderPackets:  m.senderPackets,
		SenderOctets:   m.senderOctets,
	}
}
