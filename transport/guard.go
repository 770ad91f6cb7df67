package transport

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// SourceGuard admits traffic from a single remote source. The first
// address seen is locked in until Reset.
type SourceGuard struct {
	mu     sync.Mutex
	source net.Addr
}

// NewSourceGuard creates a guard. A non-nil expected address is locked in
// immediately.
func NewSourceGuard(expected net.Addr) *SourceGuard {
	return &SourceGuard{source: expected}
}

// Allow reports whether addr is the locked source, locking it if none is set.
func (g *SourceGuard) Allow(addr net.Addr) bool {
	if addr == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.source == nil {
		g.source = addr
		logrus.WithFields(logrus.Fields{
			"function": "SourceGuard.Allow",
			"source":   addr.String(),
		}).Debug("Locked remote source")
		return true
	}

	if g.source.Network() == addr.Network() && g.source.String() == addr.String() {
		return true
	}

	logrus.WithFields(logrus.Fields{
		"function": "SourceGuard.Allow",
		"source":   g.source.String(),
		"rejected": addr.String(),
	}).Warn("Rejected packet from unexpected source")
	return false
}

// Source returns the locked address, or nil.
func (g *SourceGuard) Source() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.source
}

// Reset unlocks the guard.
func (g *SourceGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.source = nil
}
