// Package secure provides the SRTP/SRTCP packet transform used by sessions
// running over DTLS-SRTP, and the plumbing that keys it.
//
// SRTPTransport stays incomplete until keyed, either from an established
// DTLS association (RFC 5764 key export) or from a shared secret through
// HKDF-SHA256. Until then every encode and decode fails with
// ErrHandshakeIncomplete, and session handlers refuse to send or receive.
//
// DTLSHandler is a pipeline handler claiming datagrams whose first byte is
// in [20, 63]. It exposes them as a net.Conn so pion/dtls can run the
// handshake over the socket shared with RTP and RTCP. The handshake state
// machine itself is entirely pion's.
package secure
