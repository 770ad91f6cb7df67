// Package relay receives RTP media for a session and forwards it to the
// downstream targets of that session.
//
// An RTPHandler is a pipeline handler registered below the RTCP handler:
// both protocols share the first byte range, and RTP is whatever remains
// after the RTCP probe declines a datagram. Inbound media updates the
// session statistics before it is forwarded, so receiver reports describe
// what the gateway actually saw.
//
// Relayed RTCP travels the other way round: the RTCP session handler calls
// ForwardRTCP from its receive callback with the decrypted compound packet.
package relay
