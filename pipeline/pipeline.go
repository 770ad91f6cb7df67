package pipeline

import (
	"fmt"
	"net"
	"sort"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Handler processes one protocol multiplexed on a shared socket.
type Handler interface {
	// CanHandle inspects the leading bytes of a datagram.
	CanHandle(data []byte) bool
	// Handle processes a datagram and optionally returns a reply for remote.
	Handle(data []byte, local, remote net.Addr) ([]byte, error)
	// Priority orders handlers; higher values are probed first.
	Priority() int
}

// Pipeline is an ordered, concurrency safe set of handlers.
type Pipeline struct {
	handlers atomic.Pointer[[]Handler]
}

// New creates a pipeline holding the given handlers.
func New(handlers ...Handler) *Pipeline {
	p := &Pipeline{}
	empty := make([]Handler, 0)
	p.handlers.Store(&empty)
	for _, h := range handlers {
		p.AddHandler(h)
	}
	return p
}

func (p *Pipeline) snapshot() []Handler {
	if list := p.handlers.Load(); list != nil {
		return *list
	}
	return nil
}

func indexOf(list []Handler, h Handler) int {
	for i, existing := range list {
		if existing == h {
			return i
		}
	}
	return -1
}

// AddHandler registers h unless the same handler is already present and
// reports whether it was added.
func (p *Pipeline) AddHandler(h Handler) bool {
	if h == nil {
		return false
	}

	for {
		old := p.handlers.Load()
		var current []Handler
		if old != nil {
			current = *old
		}
		if indexOf(current, h) >= 0 {
			return false
		}

		next := make([]Handler, len(current), len(current)+1)
		copy(next, current)
		next = append(next, h)
		sort.SliceStable(next, func(i, j int) bool {
			return next[i].Priority() > next[j].Priority()
		})

		if p.handlers.CompareAndSwap(old, &next) {
			logrus.WithFields(logrus.Fields{
				"function": "Pipeline.AddHandler",
				"handler":  fmt.Sprintf("%T", h),
				"priority": h.Priority(),
				"count":    len(next),
			}).Debug("Handler added")
			return true
		}
	}
}

// RemoveHandler unregisters h and reports whether it was present.
func (p *Pipeline) RemoveHandler(h Handler) bool {
	for {
		old := p.handlers.Load()
		var current []Handler
		if old != nil {
			current = *old
		}
		i := indexOf(current, h)
		if i < 0 {
			return false
		}

		next := make([]Handler, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)

		if p.handlers.CompareAndSwap(old, &next) {
			logrus.WithFields(logrus.Fields{
				"function": "Pipeline.RemoveHandler",
				"handler":  fmt.Sprintf("%T", h),
				"count":    len(next),
			}).Debug("Handler removed")
			return true
		}
	}
}

// CapableHandler returns the highest priority handler accepting data, or
// nil if none does.
func (p *Pipeline) CapableHandler(data []byte) Handler {
	for _, h := range p.snapshot() {
		if h.CanHandle(data) {
			return h
		}
	}
	return nil
}

// Contains reports whether h is registered.
func (p *Pipeline) Contains(h Handler) bool {
	return indexOf(p.snapshot(), h) >= 0
}

// Count returns the number of registered handlers.
func (p *Pipeline) Count() int {
	return len(p.snapshot())
}

// Handlers returns a copy of the handlers in probe order.
func (p *Pipeline) Handlers() []Handler {
	list := p.snapshot()
	out := make([]Handler, len(list))
	copy(out, list)
	return out
}

// Find returns the first handler, in probe order, for which match is true.
func (p *Pipeline) Find(match func(Handler) bool) Handler {
	for _, h := range p.snapshot() {
		if match(h) {
			return h
		}
	}
	return nil
}

// Dispatch hands data to the capable handler and returns its reply.
func (p *Pipeline) Dispatch(data []byte, local, remote net.Addr) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}

	h := p.CapableHandler(data)
	if h == nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Pipeline.Dispatch",
			"remote":     remote,
			"first_byte": data[0],
			"size":       len(data),
		}).Debug("No handler for packet")
		return nil, fmt.Errorf("%w: first byte %d from %v", ErrNoCapableHandler, data[0], remote)
	}

	return h.Handle(data, local, remote)
}
