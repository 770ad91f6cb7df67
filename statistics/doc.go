// Package statistics keeps the per-session RTP/RTCP accounting that drives
// RTCP report timing.
//
// A Statistics value tracks the membership of one RTP session (members,
// pmembers, senders), the running average compound RTCP packet size, the
// local sender counters and a per-SSRC table with the sequence, loss and
// jitter accumulators of RFC 3550 appendices A.1, A.3 and A.8. From those it
// computes the randomized RTCP transmission interval of RFC 3550 section
// 6.3 and appendix A.7, and builds the sender info and reception report
// blocks placed in outgoing reports.
//
// The local participant is always counted, so Members never drops below one.
//
// All methods are safe for concurrent use. Time is read from an injectable
// TimeProvider so tests can drive the clock:
//
//	clock := &MockTimeProvider{}
//	stats := New(DefaultConfig())
//	stats.SetTimeProvider(clock)
//	clock.Advance(5 * time.Second)
package statistics
