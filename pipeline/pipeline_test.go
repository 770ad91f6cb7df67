package pipeline

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rtspgw/rtcp"
)

// probeHandler accepts datagrams whose first byte falls in [low, high].
type probeHandler struct {
	name      string
	priority  int
	low, high byte
	reply     []byte
	handled   int
}

func (h *probeHandler) CanHandle(data []byte) bool {
	return len(data) > 0 && data[0] >= h.low && data[0] <= h.high
}

func (h *probeHandler) Handle(data []byte, local, remote net.Addr) ([]byte, error) {
	h.handled++
	return h.reply, nil
}

func (h *probeHandler) Priority() int { return h.priority }

// rtcpProbe mirrors the RTCP session handler's classification.
type rtcpProbe struct{ probeHandler }

func (h *rtcpProbe) CanHandle(data []byte) bool { return rtcp.CanHandle(data) }

func TestPipeline_AddHandlerOrdersByPriority(t *testing.T) {
	low := &probeHandler{name: "low", priority: 1}
	mid := &probeHandler{name: "mid", priority: 5}
	high := &probeHandler{name: "high", priority: 10}

	p := New()
	assert.True(t, p.AddHandler(mid))
	assert.True(t, p.AddHandler(low))
	assert.True(t, p.AddHandler(high))

	assert.Equal(t, []Handler{high, mid, low}, p.Handlers())
	assert.Equal(t, 3, p.Count())
}

func TestPipeline_IdentityUniqueness(t *testing.T) {
	a := &probeHandler{name: "a", priority: 1, low: 0, high: 255}
	b := &probeHandler{name: "a", priority: 1, low: 0, high: 255}

	p := New(a)
	assert.False(t, p.AddHandler(a), "same handler twice")
	assert.True(t, p.AddHandler(b), "equal but distinct handler")
	assert.False(t, p.AddHandler(nil))
	assert.Equal(t, 2, p.Count())

	assert.True(t, p.RemoveHandler(a))
	assert.False(t, p.RemoveHandler(a))
	assert.False(t, p.Contains(a))
	assert.True(t, p.Contains(b))
}

func TestPipeline_CapableHandler(t *testing.T) {
	stun := &probeHandler{name: "stun", priority: 100, low: 0, high: 3}
	dtls := &probeHandler{name: "dtls", priority: 90, low: 20, high: 63}
	rtcpHandler := &rtcpProbe{probeHandler{name: "rtcp", priority: 20}}
	rtp := &probeHandler{name: "rtp", priority: 10, low: 128, high: 191}

	p := New(rtp, rtcpHandler, dtls, stun)

	tests := []struct {
		name     string
		data     []byte
		expected Handler
	}{
		{name: "RTCP sender report", data: []byte{0x80, 200, 0, 6}, expected: rtcpHandler},
		{name: "RTCP receiver report", data: []byte{0x81, 201, 0, 7}, expected: rtcpHandler},
		{name: "RTP payload type 0", data: []byte{0x80, 0, 0, 1}, expected: rtp},
		{name: "Padded RTCP falls through to RTP", data: []byte{0xA0, 200, 0, 6}, expected: rtp},
		{name: "DTLS handshake", data: []byte{22, 254, 253}, expected: dtls},
		{name: "STUN", data: []byte{0, 1, 0, 0}, expected: stun},
		{name: "Unknown", data: []byte{255}, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.CapableHandler(tt.data)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			assert.Same(t, tt.expected, got)
		})
	}
}

func TestPipeline_HigherPriorityWinsTies(t *testing.T) {
	wide := &probeHandler{name: "wide", priority: 1, low: 0, high: 255}
	narrow := &probeHandler{name: "narrow", priority: 2, low: 128, high: 191}

	p := New(wide, narrow)
	assert.Same(t, narrow, p.CapableHandler([]byte{0x80}))
	assert.Same(t, wide, p.CapableHandler([]byte{0x10}))
}

func TestPipeline_Find(t *testing.T) {
	a := &probeHandler{name: "a", priority: 1}
	r := &rtcpProbe{probeHandler{name: "rtcp", priority: 2}}
	p := New(a, r)

	found := p.Find(func(h Handler) bool {
		_, ok := h.(*rtcpProbe)
		return ok
	})
	assert.Same(t, r, found)
	assert.Nil(t, p.Find(func(Handler) bool { return false }))
}

func TestPipeline_HandlersReturnsCopy(t *testing.T) {
	a := &probeHandler{name: "a", priority: 1}
	p := New(a)

	list := p.Handlers()
	list[0] = nil
	assert.Same(t, a, p.Handlers()[0])
}

func TestPipeline_Dispatch(t *testing.T) {
	h := &probeHandler{name: "all", priority: 1, low: 128, high: 191, reply: []byte("ok")}
	p := New(h)
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}

	reply, err := p.Dispatch([]byte{0x80, 0}, nil, remote)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), reply)
	assert.Equal(t, 1, h.handled)

	_, err = p.Dispatch([]byte{0x10}, nil, remote)
	assert.ErrorIs(t, err, ErrNoCapableHandler)

	_, err = p.Dispatch(nil, nil, remote)
	assert.ErrorIs(t, err, ErrEmptyPacket)
}

func TestPipeline_ConcurrentMutation(t *testing.T) {
	p := New()
	handlers := make([]*probeHandler, 64)
	for i := range handlers {
		handlers[i] = &probeHandler{priority: i, low: 0, high: 255}
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(2)
		go func(h *probeHandler) {
			defer wg.Done()
			p.AddHandler(h)
		}(h)
		go func() {
			defer wg.Done()
			p.CapableHandler([]byte{1})
		}()
	}
	wg.Wait()

	require.Equal(t, len(handlers), p.Count())
	list := p.Handlers()
	for i := 1; i < len(list); i++ {
		assert.GreaterOrEqual(t, list[i-1].Priority(), list[i].Priority())
	}
	assert.Equal(t, 63, p.CapableHandler([]byte{1}).Priority())
}
