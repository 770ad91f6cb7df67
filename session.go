package rtspgw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/dtls/v2"
	"github.com/pion/srtp/v2"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspgw/handler"
	"github.com/opd-ai/rtspgw/pipeline"
	"github.com/opd-ai/rtspgw/relay"
	"github.com/opd-ai/rtspgw/secure"
	"github.com/opd-ai/rtspgw/statistics"
	"github.com/opd-ai/rtspgw/transport"
)

// SecureMode selects how a session protects its media.
type SecureMode uint8

const (
	// SecureNone carries plain RTP and RTCP.
	SecureNone SecureMode = iota
	// SecurePreShared keys SRTP from a secret both peers hold.
	SecurePreShared
	// SecureDTLS keys SRTP from a DTLS handshake on the media socket.
	SecureDTLS
)

// preSharedLabel is the HKDF info string of pre-shared keying.
const preSharedLabel = "rtspgw srtp"

// Session errors.
var (
	ErrMissingSecret     = errors.New("pre-shared secure mode requires a secret")
	ErrMissingDTLSConfig = errors.New("dtls secure mode requires a dtls config")
	ErrUnknownSecureMode = errors.New("unknown secure mode")
)

// SessionConfig describes one relayed RTP session.
type SessionConfig struct {
	// ID names the session; empty means generate one.
	ID string
	// Remote is the peer address. RTP and RTCP share it (RFC 5761). A UDP
	// address with port 0 latches onto the first port its host sends from,
	// and the session joins once latched.
	Remote net.Addr
	Audio  bool
	// Targets receive the relayed media and RTCP.
	Targets []relay.Target

	Secure SecureMode
	// Secret and Profile key SecurePreShared sessions.
	Secret  []byte
	Profile srtp.ProtectionProfile
	// DTLS configures SecureDTLS sessions; IsClient picks the handshake role
	// and the SRTP key direction for both modes.
	DTLS     *dtls.Config
	IsClient bool
}

// Session is one relayed RTP session and the handlers serving it.
type Session struct {
	id       string
	stats    *statistics.Statistics
	rtcp     *handler.RTCPHandler
	relay    *relay.RTPHandler
	pipeline *pipeline.Pipeline
	guard    *transport.SourceGuard

	srtp *secure.SRTPTransport
	dtls *secure.DTLSHandler

	mu       sync.Mutex
	remote   net.Addr
	dtlsConn *dtls.Conn
	cancel   context.CancelFunc
	done     chan struct{}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Remote returns the peer address, or nil while a latching session waits
// for its first datagram.
func (s *Session) Remote() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *Session) setRemote(addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = addr
}

// Statistics returns the RTP accounting of the session.
func (s *Session) Statistics() *statistics.Statistics {
	return s.stats
}

// RTCP returns the RTCP session handler.
func (s *Session) RTCP() *handler.RTCPHandler {
	return s.rtcp
}

// Relay returns the media relay handler.
func (s *Session) Relay() *relay.RTPHandler {
	return s.relay
}

// Pipeline returns the handler pipeline datagrams of this session go through.
func (s *Session) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// IsSecure reports whether the session protects its media.
func (s *Session) IsSecure() bool {
	return s.srtp != nil
}

// HandshakeDone is closed when a DTLS handshake finishes, successfully or
// not. It is nil for sessions without DTLS.
func (s *Session) HandshakeDone() <-chan struct{} {
	return s.done
}

// enableSecure wires the SRTP transform into the handlers and keys it.
func (s *Session) enableSecure(config *SessionConfig) error {
	s.srtp = secure.NewSRTPTransport()
	s.rtcp.EnableSRTCP(s.srtp)
	s.relay.EnableSRTP(s.srtp)

	switch config.Secure {
	case SecurePreShared:
		profile := config.Profile
		if profile == 0 {
			profile = srtp.ProtectionProfileAes128CmHmacSha1_80
		}
		keys, err := secure.DeriveKeys(config.Secret, preSharedLabel, profile, config.IsClient)
		if err != nil {
			return err
		}
		return s.srtp.Complete(keys)
	case SecureDTLS:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownSecureMode, config.Secure)
	}
}

// startHandshake runs the DTLS handshake in the background. Until it
// completes the RTCP and RTP handlers refuse traffic.
func (s *Session) startHandshake(config *dtls.Config, isClient bool) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		conn, err := secure.Handshake(ctx, s.dtls, config, isClient, s.srtp)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Session.startHandshake",
				"session_id": s.id,
				"remote":     s.dtls.RemoteAddr().String(),
				"error":      err.Error(),
			}).Error("DTLS handshake failed")
			return
		}

		s.mu.Lock()
		s.dtlsConn = conn
		s.mu.Unlock()
	}()
}

// close leaves the RTP session and releases its secure state.
func (s *Session) close() error {
	s.rtcp.LeaveRTPSession()

	if s.cancel != nil {
		s.cancel()
	}
	if s.dtls != nil {
		s.dtls.Close()
	}
	if s.done != nil {
		<-s.done
	}

	s.mu.Lock()
	if s.dtlsConn != nil {
		s.dtlsConn.Close()
		s.dtlsConn = nil
	}
	s.mu.Unlock()

	if s.srtp != nil {
		s.srtp.Reset()
	}
	s.guard.Reset()
	return s.rtcp.Reset()
}
