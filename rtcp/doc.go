// Package rtcp implements the compound RTCP packet codec used by the gateway's
// session handlers.
//
// A compound packet is a sequence of RTCP sub-packets sharing one datagram.
// CompoundPacket keeps one slot per sub-packet kind (sender report, receiver
// report, source description, application-defined, goodbye) plus a list of
// feedback messages, decodes them by scanning the packet type byte of each
// sub-packet and re-encodes them in a fixed canonical order:
//
//	feedback, SR, RR, SDES, APP, BYE
//
// Individual sub-packets are marshaled with the pion/rtcp library.
//
// # Classification
//
// CanHandle implements the RFC 5764 section 5.1.2 demultiplexing rules for the
// first sub-packet of a compound packet received on a socket shared with RTP,
// STUN and DTLS:
//
//	packet, valid := buf[:n], rtcp.CanHandle(buf[:n])
//
// # Limitations
//
// A sub-packet with an unknown type byte ends decoding: the rest of the buffer
// is reported as consumed and any sub-packets after it are not parsed.
// Truncated reports whether that happened.
package rtcp
