package secure

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
	pionrtcp "github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopSender delivers every datagram to the peer handler.
type loopSender struct {
	mu   sync.Mutex
	peer *DTLSHandler
	from net.Addr
	sent int
}

func (s *loopSender) Send(data []byte, addr net.Addr) error {
	s.mu.Lock()
	peer := s.peer
	s.sent++
	s.mu.Unlock()
	_, err := peer.Handle(data, addr, s.from)
	return err
}

func TestDTLSHandler_CanHandle(t *testing.T) {
	h := NewDTLSHandler(DefaultDTLSPriority, &loopSender{}, nil, nil)

	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{name: "Handshake record", data: []byte{22, 254, 253}, expected: true},
		{name: "Change cipher spec", data: []byte{20}, expected: true},
		{name: "Upper bound", data: []byte{63}, expected: true},
		{name: "STUN", data: []byte{0, 1}, expected: false},
		{name: "RTCP", data: []byte{0x80, 200}, expected: false},
		{name: "Empty", data: nil, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, h.CanHandle(tt.data))
		})
	}
	assert.Equal(t, DefaultDTLSPriority, h.Priority())
}

func TestDTLSHandler_ReadWrite(t *testing.T) {
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	sender := &loopSender{}
	h := NewDTLSHandler(DefaultDTLSPriority, sender, nil, remote)
	sender.peer = h

	n, err := h.Write([]byte{22, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	buf := make([]byte, 16)
	n, err = h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{22, 1, 2}, buf[:n])
	assert.Equal(t, remote, h.RemoteAddr())

	require.NoError(t, h.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	_, err = h.Read(buf)
	assert.ErrorIs(t, err, ErrReadTimeout)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	require.NoError(t, h.Close())
	_, err = h.Read(buf)
	assert.ErrorIs(t, err, ErrConnClosed)
	_, err = h.Write([]byte{22})
	assert.ErrorIs(t, err, ErrConnClosed)
	_, err = h.Handle([]byte{22}, nil, remote)
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestDTLSHandler_CloseWinsOverExpiredDeadline(t *testing.T) {
	h := NewDTLSHandler(DefaultDTLSPriority, &loopSender{}, nil, nil)
	require.NoError(t, h.SetReadDeadline(time.Now().Add(-time.Second)))

	_, err := h.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrReadTimeout)

	require.NoError(t, h.Close())
	for i := 0; i < 3; i++ {
		_, err := h.Read(make([]byte, 8))
		assert.ErrorIs(t, err, ErrConnClosed)
		assert.ErrorIs(t, err, net.ErrClosed)
	}
}

func TestDTLSHandler_DeadlineInterruptsBlockedRead(t *testing.T) {
	h := NewDTLSHandler(DefaultDTLSPriority, &loopSender{}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := h.Read(make([]byte, 8))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.SetReadDeadline(time.Unix(1, 0)))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrReadTimeout)
	case <-time.After(time.Second):
		t.Fatal("blocked read ignored the deadline")
	}
}

func TestHandshake_KeysBothSides(t *testing.T) {
	clientAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40001}
	serverAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40002}

	toServer := &loopSender{from: clientAddr}
	toClient := &loopSender{from: serverAddr}
	clientHandler := NewDTLSHandler(DefaultDTLSPriority, toServer, clientAddr, serverAddr)
	serverHandler := NewDTLSHandler(DefaultDTLSPriority, toClient, serverAddr, clientAddr)
	toServer.peer = serverHandler
	toClient.peer = clientHandler

	config := func(t *testing.T) *dtls.Config {
		cert, err := selfsign.GenerateSelfSigned()
		require.NoError(t, err)
		return &dtls.Config{
			Certificates:           []tls.Certificate{cert},
			InsecureSkipVerify:     true,
			SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
		}
	}
	clientConfig := config(t)
	serverConfig := config(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientSRTP := NewSRTPTransport()
	serverSRTP := NewSRTPTransport()

	type result struct {
		conn *dtls.Conn
		err  error
	}
	serverDone := make(chan result, 1)
	go func() {
		conn, err := Handshake(ctx, serverHandler, serverConfig, false, serverSRTP)
		serverDone <- result{conn, err}
	}()

	clientConn, err := Handshake(ctx, clientHandler, clientConfig, true, clientSRTP)
	require.NoError(t, err)
	defer clientConn.Close()

	server := <-serverDone
	require.NoError(t, server.err)
	defer server.conn.Close()

	require.True(t, clientSRTP.IsHandshakeComplete())
	require.True(t, serverSRTP.IsHandshakeComplete())

	plain, err := (&pionrtcp.ReceiverReport{SSRC: 77}).Marshal()
	require.NoError(t, err)
	protected, err := clientSRTP.EncodeRTCP(plain)
	require.NoError(t, err)
	decoded, err := serverSRTP.DecodeRTCP(protected)
	require.NoError(t, err)
	assert.Equal(t, plain, decoded)
}
