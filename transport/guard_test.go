package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceGuard(t *testing.T) {
	first := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	same := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	other := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5000}

	g := NewSourceGuard(nil)
	assert.Nil(t, g.Source())
	assert.False(t, g.Allow(nil))

	assert.True(t, g.Allow(first))
	assert.True(t, g.Allow(same))
	assert.False(t, g.Allow(other))
	assert.Equal(t, first, g.Source())

	g.Reset()
	assert.True(t, g.Allow(other))
	assert.False(t, g.Allow(first))
}

func TestSourceGuard_Expected(t *testing.T) {
	expected := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	g := NewSourceGuard(expected)

	assert.False(t, g.Allow(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 5000}))
	assert.True(t, g.Allow(expected))
}
