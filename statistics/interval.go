package statistics

import (
	"math"
	"time"
)

// RFC 3550 section 6.3 and appendix A.7 constants.
const (
	// MinRTCPInterval is the minimum deterministic interval between reports.
	MinRTCPInterval = 5 * time.Second

	// SenderBandwidthFraction is the share of RTCP bandwidth reserved for senders.
	SenderBandwidthFraction = 0.25

	// ReceiverBandwidthFraction is the share left for receivers.
	ReceiverBandwidthFraction = 1 - SenderBandwidthFraction

	// SenderTimeoutMultiplier is how many report intervals a sender may stay
	// silent before it is no longer counted as a sender.
	SenderTimeoutMultiplier = 2

	// MemberTimeoutMultiplier is how many deterministic intervals a member may
	// stay silent before it is timed out.
	MemberTimeoutMultiplier = 5
)

// compensation is e - 3/2, which corrects the randomized interval for the
// timer reconsideration converging below the intended bandwidth.
var compensation = math.E - 1.5

// IntervalParams are the inputs of the RTCP interval computation.
type IntervalParams struct {
	Members int
	Senders int
	// Bandwidth is the RTCP bandwidth in octets per second.
	Bandwidth float64
	// AvgSize is the average compound RTCP packet size in octets.
	AvgSize float64
	WeSent  bool
	Initial bool
}

// DeterministicInterval returns Td, the interval before randomization.
func DeterministicInterval(p IntervalParams) time.Duration {
	minTime := MinRTCPInterval.Seconds()
	if p.Initial {
		minTime /= 2
	}

	n := p.Members
	bw := p.Bandwidth
	if float64(p.Senders) <= float64(p.Members)*SenderBandwidthFraction {
		if p.WeSent {
			bw *= SenderBandwidthFraction
			n = p.Senders
		} else {
			bw *= ReceiverBandwidthFraction
			n -= p.Senders
		}
	}
	if n < 1 {
		n = 1
	}

	t := minTime
	if bw > 0 {
		t = p.AvgSize * float64(n) / bw
		if t < minTime {
			t = minTime
		}
	}

	return time.Duration(t * float64(time.Second))
}

// RandomizedInterval scales Td by a factor in [0.5, 1.5) drawn from r and
// divides by the reconsideration compensation. r must return values in [0, 1).
func RandomizedInterval(p IntervalParams, r func() float64) time.Duration {
	td := DeterministicInterval(p).Seconds()
	t := td * (r() + 0.5) / compensation
	return time.Duration(t * float64(time.Second))
}
