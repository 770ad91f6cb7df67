package rtspgw

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspgw/handler"
	"github.com/opd-ai/rtspgw/limits"
	"github.com/opd-ai/rtspgw/pipeline"
	"github.com/opd-ai/rtspgw/relay"
	"github.com/opd-ai/rtspgw/scheduler"
	"github.com/opd-ai/rtspgw/secure"
	"github.com/opd-ai/rtspgw/statistics"
	"github.com/opd-ai/rtspgw/transport"
)

// Gateway errors.
var (
	ErrNotStarted        = errors.New("gateway not started")
	ErrAlreadyStarted    = errors.New("gateway already started")
	ErrGatewayClosed     = errors.New("gateway closed")
	ErrNilSessionConfig  = errors.New("session config cannot be nil")
	ErrNilRemote         = errors.New("session remote address cannot be nil")
	ErrRemoteInUse       = errors.New("remote address already bound to a session")
	ErrSessionNotFound   = errors.New("session not found")
	ErrUnexpectedSource  = errors.New("packet from unexpected source")
	ErrNoSessionForHost  = errors.New("no session for remote")
	ErrLatchWithDTLS     = errors.New("a latching session cannot use dtls")
	errTransportRequired = errors.New("transport cannot be nil")
)

// Gateway owns the resources shared by all sessions: the scheduler running
// RTCP timers, the UDP socket, and the session registry.
type Gateway struct {
	options   *Options
	pool      *scheduler.WorkerPool
	registry  *handler.Registry
	fallback  *pipeline.Pipeline
	transport atomic.Pointer[boundTransport]

	mu       sync.RWMutex
	sessions map[string]*Session
	byRemote map[string]*Session
	// latching holds sessions opened with port 0, keyed by host.
	latching map[string]*Session

	started atomic.Bool
	closed  atomic.Bool
}

// New creates a gateway from options. A nil options uses NewOptions.
func New(options *Options) (*Gateway, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		options: options,
		pool: scheduler.NewWorkerPool(&scheduler.Config{
			Workers:   options.Workers,
			QueueSize: options.QueueSize,
		}),
		registry: handler.NewRegistry(),
		fallback: pipeline.New(pipeline.NewSTUNHandler(options.Priorities.STUN, options.Software)),
		sessions: make(map[string]*Session),
		byRemote: make(map[string]*Session),
		latching: make(map[string]*Session),
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"listen":   options.ListenAddr,
		"workers":  options.Workers,
	}).Debug("Created gateway")

	return g, nil
}

// Start listens on the configured address and starts the scheduler.
func (g *Gateway) Start() error {
	if g.closed.Load() {
		return ErrGatewayClosed
	}
	if g.started.Load() {
		return ErrAlreadyStarted
	}

	t, err := transport.NewUDPTransport(g.options.ListenAddr, g)
	if err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	return g.startWith(t)
}

// StartWithTransport starts the gateway on an existing transport, which
// must deliver its datagrams to the gateway's Dispatch.
func (g *Gateway) StartWithTransport(t transport.Transport) error {
	if t == nil {
		return errTransportRequired
	}
	if g.closed.Load() {
		return ErrGatewayClosed
	}
	if g.started.Load() {
		return ErrAlreadyStarted
	}
	return g.startWith(t)
}

func (g *Gateway) startWith(t transport.Transport) error {
	if !g.started.CompareAndSwap(false, true) {
		t.Close()
		return ErrAlreadyStarted
	}

	g.pool.Start()
	g.transport.Store(&boundTransport{
		Transport: t,
		sender:    &boundedSender{next: t, max: g.options.MaxPacketSize},
	})

	logrus.WithFields(logrus.Fields{
		"function":   "Gateway.Start",
		"local_addr": t.LocalAddr().String(),
	}).Info("Gateway started")
	return nil
}

// LocalAddr returns the address of the shared socket, or nil before Start.
func (g *Gateway) LocalAddr() net.Addr {
	bt := g.transport.Load()
	if bt == nil {
		return nil
	}
	return bt.LocalAddr()
}

// Registry returns the RTCP session registry.
func (g *Gateway) Registry() *handler.Registry {
	return g.registry
}

// OpenSession builds the handler pipeline of a new session and joins it.
func (g *Gateway) OpenSession(config *SessionConfig) (*Session, error) {
	if config == nil {
		return nil, ErrNilSessionConfig
	}
	if config.Remote == nil {
		return nil, ErrNilRemote
	}
	if g.closed.Load() {
		return nil, ErrGatewayClosed
	}
	bt := g.transport.Load()
	if bt == nil {
		return nil, ErrNotStarted
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	latch := isLatching(config.Remote)
	key := config.Remote.String()
	if latch {
		if config.Secure == SecureDTLS {
			return nil, ErrLatchWithDTLS
		}
		key = hostOf(config.Remote)
		if _, exists := g.latching[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrRemoteInUse, key)
		}
	} else if _, exists := g.byRemote[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRemoteInUse, key)
	}

	s, err := g.buildSession(config, latch, bt)
	if err != nil {
		return nil, err
	}

	g.sessions[s.id] = s
	if latch {
		g.latching[key] = s
	} else {
		g.byRemote[key] = s
		if config.Secure == SecureDTLS {
			s.startHandshake(config.DTLS, config.IsClient)
		}
		s.rtcp.JoinRTPSession()
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Gateway.OpenSession",
		"session_id": s.id,
		"remote":     key,
		"secure":     config.Secure,
		"targets":    len(config.Targets),
	}).Info("Opened session")

	return s, nil
}

func (g *Gateway) buildSession(config *SessionConfig, latch bool, bt *boundTransport) (*Session, error) {
	switch config.Secure {
	case SecurePreShared:
		if len(config.Secret) == 0 {
			return nil, ErrMissingSecret
		}
	case SecureDTLS:
		if config.DTLS == nil {
			return nil, ErrMissingDTLSConfig
		}
	case SecureNone:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownSecureMode, config.Secure)
	}

	stats := statistics.New(g.options.statisticsConfig())

	rtcpHandler, err := handler.NewRTCPHandler(&handler.Config{
		ID:          config.ID,
		Priority:    g.options.Priorities.RTCP,
		Audio:       config.Audio,
		SweepPeriod: g.options.SweepPeriod,
	}, stats, g.pool, g.registry, bt.sender, config.Remote)
	if err != nil {
		return nil, err
	}

	rtpHandler, err := relay.NewRTPHandler(&relay.Config{
		SessionID: rtcpHandler.ID(),
		Priority:  g.options.Priorities.RTP,
	}, stats, bt.sender)
	if err != nil {
		g.registry.Unregister(rtcpHandler.ID())
		return nil, err
	}
	for _, t := range config.Targets {
		rtpHandler.AddTarget(t)
	}
	rtcpHandler.SetReceiveCallback(rtpHandler.ForwardRTCP)

	var expected net.Addr
	if !latch {
		expected = config.Remote
	}

	s := &Session{
		id:       rtcpHandler.ID(),
		remote:   expected,
		stats:    stats,
		rtcp:     rtcpHandler,
		relay:    rtpHandler,
		pipeline: pipeline.New(pipeline.NewSTUNHandler(g.options.Priorities.STUN, g.options.Software), rtcpHandler, rtpHandler),
		guard:    transport.NewSourceGuard(expected),
	}

	if config.Secure != SecureNone {
		if config.Secure == SecureDTLS {
			s.dtls = secure.NewDTLSHandler(g.options.Priorities.DTLS, bt.sender, bt.LocalAddr(), config.Remote)
			s.pipeline.AddHandler(s.dtls)
		}
		if err := s.enableSecure(config); err != nil {
			g.registry.Unregister(s.id)
			return nil, err
		}
	}

	return s, nil
}

// Session returns the session with the given id.
func (g *Gateway) Session(id string) (*Session, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[id]
	return s, ok
}

// SessionCount returns the number of open sessions.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// CloseSession sends the BYE of a session and releases it.
func (g *Gateway) CloseSession(id string) error {
	g.mu.Lock()
	s, ok := g.sessions[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	g.detachLocked(s)
	g.mu.Unlock()

	err := s.close()
	g.registry.Unregister(id)

	logrus.WithFields(logrus.Fields{
		"function":   "Gateway.CloseSession",
		"session_id": id,
	}).Info("Closed session")

	return err
}

func (g *Gateway) detachLocked(s *Session) {
	delete(g.sessions, s.id)
	if remote := s.Remote(); remote != nil {
		delete(g.byRemote, remote.String())
	}
	if latched, ok := g.latching[hostOf(s.rtcp.Remote())]; ok && latched == s {
		delete(g.latching, hostOf(s.rtcp.Remote()))
	}
}

// Dispatch implements transport.Dispatcher. Datagrams from a session peer
// go through that session's pipeline, and the first datagram from the host
// of a latching session binds that session to its source. Anything else
// may only be STUN.
func (g *Gateway) Dispatch(data []byte, local, remote net.Addr) ([]byte, error) {
	if remote == nil {
		return nil, ErrUnexpectedSource
	}

	g.mu.RLock()
	s, ok := g.byRemote[remote.String()]
	if !ok {
		s, ok = g.latching[hostOf(remote)]
	}
	g.mu.RUnlock()

	if ok {
		if !s.guard.Allow(remote) {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedSource, remote)
		}
		if s.Remote() == nil {
			g.bind(s, remote)
		}
		return s.pipeline.Dispatch(data, local, remote)
	}

	reply, err := g.fallback.Dispatch(data, local, remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSessionForHost, err)
	}
	return reply, nil
}

// bind completes a latching session once its source is known.
func (g *Gateway) bind(s *Session, remote net.Addr) {
	g.mu.Lock()
	if s.Remote() != nil {
		g.mu.Unlock()
		return
	}
	if _, open := g.sessions[s.id]; !open {
		g.mu.Unlock()
		return
	}
	s.setRemote(remote)
	g.byRemote[remote.String()] = s
	g.mu.Unlock()

	s.rtcp.SetRemote(remote)
	s.rtcp.JoinRTPSession()

	logrus.WithFields(logrus.Fields{
		"function":   "Gateway.bind",
		"session_id": s.id,
		"remote":     remote.String(),
	}).Info("Latched session source")
}

// Close closes every session, then the socket and the scheduler.
func (g *Gateway) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}

	g.mu.RLock()
	ids := make([]string, 0, len(g.sessions))
	for id := range g.sessions {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := g.CloseSession(id); err != nil {
			errs = append(errs, err)
		}
	}

	if bt := g.transport.Load(); bt != nil {
		if err := bt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if g.started.Load() {
		g.pool.Stop()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Gateway.Close",
		"sessions": len(ids),
	}).Info("Gateway closed")

	return errors.Join(errs...)
}

// boundTransport is the socket of a started gateway and the size-checked
// sender wrapping it.
type boundTransport struct {
	transport.Transport
	sender transport.Sender
}

// boundedSender enforces the configured maximum datagram size.
type boundedSender struct {
	next transport.Sender
	max  int
}

func (b *boundedSender) Send(data []byte, addr net.Addr) error {
	if err := limits.ValidatePacketSize(data, b.max); err != nil {
		return err
	}
	return b.next.Send(data, addr)
}

// isLatching reports whether addr leaves the port to the first datagram.
func isLatching(addr net.Addr) bool {
	udp, ok := addr.(*net.UDPAddr)
	return ok && udp.Port == 0
}

func hostOf(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
