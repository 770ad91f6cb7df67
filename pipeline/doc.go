// Package pipeline demultiplexes datagrams arriving on a socket shared by
// several protocols.
//
// A Pipeline holds Handlers ordered by descending priority. Each datagram is
// given to the first handler whose CanHandle probe accepts its leading bytes,
// following the first byte ranges of RFC 5764 section 5.1.2:
//
//	[0..3]     STUN
//	[20..63]   DTLS
//	[128..191] RTP and RTCP
//
// The handler list is an immutable slice swapped atomically on every
// change, so lookups never block and never see a partial update.
package pipeline
