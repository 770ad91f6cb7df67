package relay

import (
	"errors"
	"net"
	"sync"
	"testing"

	pionrtcp "github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/srtp/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rtspgw/handler"
	"github.com/opd-ai/rtspgw/rtcp"
	"github.com/opd-ai/rtspgw/secure"
	"github.com/opd-ai/rtspgw/statistics"
)

type recordingSender struct {
	mu    sync.Mutex
	fail  map[string]bool
	sent  [][]byte
	addrs []string
}

func (s *recordingSender) Send(data []byte, addr net.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[addr.String()] {
		return errors.New("unreachable")
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	s.addrs = append(s.addrs, addr.String())
	return nil
}

var (
	peer    = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 40000}
	target1 = Target{
		RTP:  &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 50000},
		RTCP: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 50001},
	}
	target2 = Target{
		RTP:  &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 50000},
		RTCP: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 50001},
	}
)

func mediaPacket(t *testing.T, seq uint16) []byte {
	t.Helper()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 3000,
			SSRC:           0xcafe,
		},
		Payload: []byte{1, 2, 3, 4},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	return raw
}

func newRelay(t *testing.T) (*RTPHandler, *recordingSender, *statistics.Statistics) {
	t.Helper()
	stats := statistics.New(statistics.DefaultConfig())
	sender := &recordingSender{}
	h, err := NewRTPHandler(&Config{SessionID: "s1", Priority: DefaultRTPPriority}, stats, sender)
	require.NoError(t, err)
	return h, sender, stats
}

func TestNewRTPHandler(t *testing.T) {
	stats := statistics.New(statistics.DefaultConfig())

	_, err := NewRTPHandler(nil, nil, &recordingSender{})
	assert.ErrorIs(t, err, ErrNilStatistics)

	_, err = NewRTPHandler(nil, stats, nil)
	assert.ErrorIs(t, err, ErrNilSender)

	h, err := NewRTPHandler(nil, stats, &recordingSender{})
	require.NoError(t, err)
	assert.Equal(t, DefaultRTPPriority, h.Priority())
}

func TestIsRTP(t *testing.T) {
	header := func(b0, b1 byte) []byte {
		data := make([]byte, 12)
		data[0], data[1] = b0, b1
		return data
	}

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "pcmu", data: header(0x80, 0), want: true},
		{name: "dynamic payload with marker", data: header(0x80, 0x80|96), want: true},
		{name: "sender report", data: header(0x80, 200), want: false},
		{name: "receiver report", data: header(0x80, 201), want: false},
		{name: "payload type 72 without marker", data: header(0x80, 72), want: false},
		{name: "version 1", data: header(0x40, 0), want: false},
		{name: "short", data: []byte{0x80, 0, 0, 1}, want: false},
		{name: "empty", data: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRTP(tt.data))
		})
	}
}

func TestHandleForwardsToTargets(t *testing.T) {
	h, sender, stats := newRelay(t)
	h.AddTarget(target1)
	h.AddTarget(target2)

	raw := mediaPacket(t, 100)
	reply, err := h.Handle(raw, nil, peer)
	require.NoError(t, err)
	assert.Nil(t, reply)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, raw, sender.sent[0])
	assert.Equal(t, []string{target1.RTP.String(), target2.RTP.String()}, sender.addrs)

	member, ok := stats.Member(0xcafe)
	require.True(t, ok)
	assert.Equal(t, uint32(0xcafe), member.SSRC)

	c := h.Counters()
	assert.Equal(t, uint64(1), c.Received)
	assert.Equal(t, uint64(2), c.Forwarded)
	assert.Zero(t, c.Dropped)
}

func TestHandleDropsMalformedAndForeign(t *testing.T) {
	h, sender, _ := newRelay(t)
	h.AddTarget(target1)

	_, err := h.Handle([]byte{0x80, 200, 0, 6, 0, 0, 0, 1, 0, 0, 0, 0}, nil, peer)
	assert.ErrorIs(t, err, ErrNotRTP)

	// CSRC count claims more header than present
	bad := mediaPacket(t, 1)
	bad[0] |= 0x0f
	_, err = h.Handle(bad, nil, peer)
	require.NoError(t, err)

	assert.Empty(t, sender.sent)
	assert.Equal(t, uint64(1), h.Counters().Dropped)
}

func TestHandleContinuesPastFailingTarget(t *testing.T) {
	h, sender, _ := newRelay(t)
	sender.fail = map[string]bool{target1.RTP.String(): true}
	h.AddTarget(target1)
	h.AddTarget(target2)

	_, err := h.Handle(mediaPacket(t, 7), nil, peer)
	require.NoError(t, err)
	assert.Equal(t, []string{target2.RTP.String()}, sender.addrs)
	assert.Equal(t, uint64(1), h.Counters().Forwarded)
}

func TestTargets(t *testing.T) {
	h, _, _ := newRelay(t)
	h.AddTarget(target1)
	h.AddTarget(target2)

	snapshot := h.Targets()
	require.Len(t, snapshot, 2)

	assert.True(t, h.RemoveTarget(target1.RTP))
	assert.False(t, h.RemoveTarget(target1.RTP))
	assert.Equal(t, []Target{target2}, h.Targets())
	assert.Len(t, snapshot, 2)
	assert.Equal(t, target1, snapshot[0])
}

func TestForwardRTCP(t *testing.T) {
	h, sender, _ := newRelay(t)
	h.AddTarget(target1)
	h.AddTarget(Target{RTP: target2.RTP})

	p := rtcp.NewCompoundPacket(&pionrtcp.ReceiverReport{SSRC: 9}, nil, nil)
	raw, err := p.Marshal()
	require.NoError(t, err)

	h.ForwardRTCP(handler.Info{SessionID: "s1", Packet: p, Raw: raw, Remote: peer})

	require.Len(t, sender.sent, 1)
	assert.Equal(t, raw, sender.sent[0])
	assert.Equal(t, target1.RTCP.String(), sender.addrs[0])
	assert.Equal(t, uint64(1), h.Counters().RTCPRelayed)
}

func TestHandleDecryptsSRTP(t *testing.T) {
	secret := []byte("relay test secret")
	profile := srtp.ProtectionProfileAes128CmHmacSha1_80

	clientKeys, err := secure.DeriveKeys(secret, "EXTRACTOR-dtls_srtp", profile, true)
	require.NoError(t, err)
	serverKeys, err := secure.DeriveKeys(secret, "EXTRACTOR-dtls_srtp", profile, false)
	require.NoError(t, err)

	client := secure.NewSRTPTransport()
	require.NoError(t, client.Complete(clientKeys))
	server := secure.NewSRTPTransport()

	h, sender, _ := newRelay(t)
	h.AddTarget(target1)
	h.EnableSRTP(server)

	plain := mediaPacket(t, 42)
	protected, err := client.EncodeRTP(plain)
	require.NoError(t, err)

	_, err = h.Handle(protected, nil, peer)
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	assert.Equal(t, uint64(1), h.Counters().Dropped)

	require.NoError(t, server.Complete(serverKeys))
	_, err = h.Handle(protected, nil, peer)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, plain, sender.sent[0])

	// replayed packets fail authentication
	_, err = h.Handle(protected, nil, peer)
	require.NoError(t, err)
	assert.Len(t, sender.sent, 1)
	assert.Equal(t, uint64(2), h.Counters().Dropped)
}
