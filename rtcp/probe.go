package rtcp

// CanHandle reports whether data starts with a valid first sub-packet of a
// compound RTCP packet.
//
// Per RFC 5764 section 5.1.2 the first byte of RTP and RTCP falls in
// [128, 191]. The first sub-packet of a compound packet must be an SR or RR
// and may not be padded, since only the last sub-packet carries padding.
func CanHandle(data []byte) bool {
	if len(data) < 2 {
		return false
	}

	b0 := data[0]
	if b0 < 128 || b0 > 191 {
		return false
	}
	if b0>>6 != Version {
		return false
	}

	if t := data[1]; t != TypeSR && t != TypeRR {
		return false
	}

	return b0&0x20 == 0
}
