package statistics

import "time"

// Seconds between the NTP epoch (1900) and the Unix epoch (1970), RFC 5905.
const ntpEpochOffset = 2208988800

// ToNTP converts t into a 64 bit NTP timestamp.
func ToNTP(t time.Time) uint64 {
	nanos := t.UnixNano()
	sec := uint64(nanos/int64(time.Second)) + ntpEpochOffset
	frac := (uint64(nanos%int64(time.Second)) << 32) / uint64(time.Second)
	return sec<<32 | frac
}

// FromNTP converts a 64 bit NTP timestamp into a time.Time.
func FromNTP(ntp uint64) time.Time {
	sec := int64(ntp>>32) - ntpEpochOffset
	nanos := (int64(ntp&0xffffffff) * int64(time.Second)) >> 32
	return time.Unix(sec, nanos)
}

// MiddleNTP returns the middle 32 bits of an NTP timestamp, the compact
// form used in the LSR field of reception reports.
func MiddleNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

// toCompactDuration converts d into units of 1/65536 seconds, the DLSR format.
func toCompactDuration(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32((uint64(d) << 16) / uint64(time.Second))
}
