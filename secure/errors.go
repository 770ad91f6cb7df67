package secure

import (
	"errors"
	"fmt"
	"net"
)

// Keying errors.
var (
	// ErrHandshakeIncomplete indicates the transform has not been keyed yet.
	ErrHandshakeIncomplete = errors.New("secure handshake incomplete")

	// ErrUnsupportedProfile indicates an SRTP protection profile with unknown key sizes.
	ErrUnsupportedProfile = errors.New("unsupported SRTP protection profile")

	// ErrNoSRTPProfile indicates the DTLS peer did not negotiate use_srtp.
	ErrNoSRTPProfile = errors.New("no SRTP protection profile negotiated")

	// ErrEmptySecret indicates key derivation from an empty secret.
	ErrEmptySecret = errors.New("secret cannot be empty")
)

// Record transport errors.
var (
	// ErrConnClosed indicates the DTLS record conn was closed. It wraps
	// net.ErrClosed, which stops the pion/dtls read loop.
	ErrConnClosed = fmt.Errorf("dtls record conn closed: %w", net.ErrClosed)

	// ErrReadTimeout indicates a read deadline expired. It is a net.Error
	// reporting Timeout.
	ErrReadTimeout error = timeoutError{}
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "dtls record read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
