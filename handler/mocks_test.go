package handler

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	pionrtcp "github.com/pion/rtcp"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rtspgw/rtcp"
	"github.com/opd-ai/rtspgw/scheduler"
)

// fakeStats is a Statistics with a fixed interval whose clock follows a
// manual scheduler.
type fakeStats struct {
	mu       sync.Mutex
	clock    *scheduler.ManualScheduler
	interval func() int64
	members  int
	pmembers int
	weSent   bool

	initialCalls []bool
	packetTypes  []rtcp.PacketType
	sent         []*rtcp.CompoundPacket
	rawSent      []int
	received     []*rtcp.CompoundPacket
	avgSizes     []int
	resets       int
	clears       int
	confirms     int
	sweeps       int
}

func newFakeStats(clock *scheduler.ManualScheduler, interval int64) *fakeStats {
	return &fakeStats{
		clock:    clock,
		interval: func() int64 { return interval },
		members:  1,
		pmembers: 1,
	}
}

func (f *fakeStats) SSRC() uint32  { return 0x1234 }
func (f *fakeStats) CNAME() string { return "test@rtspgw" }

func (f *fakeStats) WeSent() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.weSent
}

func (f *fakeStats) SenderReport() *pionrtcp.SenderReport {
	return &pionrtcp.SenderReport{SSRC: f.SSRC(), NTPTime: 1 << 32, RTPTime: 90000, PacketCount: 10, OctetCount: 1000}
}

func (f *fakeStats) ReceiverReport() *pionrtcp.ReceiverReport {
	return &pionrtcp.ReceiverReport{SSRC: f.SSRC()}
}

func (f *fakeStats) CurrentTime() int64 {
	return f.clock.Now().Milliseconds()
}

func (f *fakeStats) RTCPInterval(initial bool) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialCalls = append(f.initialCalls, initial)
	return f.interval()
}

func (f *fakeStats) ResetMembers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.members, f.pmembers = 1, 1
}

func (f *fakeStats) ClearSenders() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.weSent = false
}

func (f *fakeStats) ConfirmMembers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	f.pmembers = f.members
}

func (f *fakeStats) OnRTCPSent(p *rtcp.CompoundPacket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
}

func (f *fakeStats) OnRTCPSentRaw(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawSent = append(f.rawSent, size)
}

func (f *fakeStats) OnRTCPReceive(p *rtcp.CompoundPacket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, p)
	if p.HasBye() {
		f.members -= len(p.Goodbye.Sources)
		if f.members < 1 {
			f.members = 1
		}
	}
}

func (f *fakeStats) IsSenderTimeout() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return false
}

func (f *fakeStats) Members() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members
}

func (f *fakeStats) PMembers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pmembers
}

func (f *fakeStats) SetRTCPPacketType(t rtcp.PacketType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packetTypes = append(f.packetTypes, t)
}

func (f *fakeStats) SetRTCPAvgSize(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.avgSizes = append(f.avgSizes, size)
}

func (f *fakeStats) setMembers(members, pmembers int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members, f.pmembers = members, pmembers
}

func (f *fakeStats) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// recordingSender records every datagram it is asked to send.
type recordingSender struct {
	mu    sync.Mutex
	err   error
	sent  [][]byte
	addrs []net.Addr
}

func (s *recordingSender) Send(data []byte, addr net.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	s.addrs = append(s.addrs, addr)
	return nil
}

func (s *recordingSender) packets() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

func (s *recordingSender) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// fakeSecure appends a four byte trailer on encode and strips it on decode,
// leaving the RTCP header readable like SRTCP does.
type fakeSecure struct {
	mu       sync.Mutex
	complete bool
	fail     bool
}

var errFakeAuth = errors.New("authentication failed")

var fakeTrailer = []byte{0xde, 0xad, 0xbe, 0xef}

func (s *fakeSecure) IsHandshakeComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

func (s *fakeSecure) setComplete(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = v
}

func (s *fakeSecure) EncodeRTCP(data []byte) ([]byte, error) {
	return append(append([]byte(nil), data...), fakeTrailer...), nil
}

func (s *fakeSecure) DecodeRTCP(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || len(data) < len(fakeTrailer) {
		return nil, errFakeAuth
	}
	return append([]byte(nil), data[:len(data)-len(fakeTrailer)]...), nil
}

var (
	testLocal  = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5005}
	testRemote = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6005}
)

type fixture struct {
	clock    *scheduler.ManualScheduler
	stats    *fakeStats
	sender   *recordingSender
	registry *Registry
	handler  *RTCPHandler
}

func newFixture(t *testing.T, interval int64) *fixture {
	t.Helper()
	clock := scheduler.NewManualScheduler()
	stats := newFakeStats(clock, interval)
	sender := &recordingSender{}
	registry := NewRegistry()

	config := DefaultConfig()
	config.ID = "session-1"
	h, err := NewRTCPHandler(config, stats, clock, registry, sender, testRemote)
	require.NoError(t, err)
	return &fixture{clock: clock, stats: stats, sender: sender, registry: registry, handler: h}
}

// peerPacket encodes a compound packet from another participant.
func peerPacket(ssrc uint32, bye bool) []byte {
	p := rtcp.NewCompoundPacket(&pionrtcp.ReceiverReport{SSRC: ssrc}, &pionrtcp.SourceDescription{
		Chunks: []pionrtcp.SourceDescriptionChunk{{
			Source: ssrc,
			Items:  []pionrtcp.SourceDescriptionItem{{Type: pionrtcp.SDESCNAME, Text: "peer"}},
		}},
	}, nil)
	if bye {
		p.Goodbye = &pionrtcp.Goodbye{Sources: []uint32{ssrc}}
	}
	raw, err := p.Marshal()
	if err != nil {
		panic(err)
	}
	return raw
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}
