// Package handler implements the RTCP side of an RTP session: joining and
// leaving, the RFC 3550 report timer with reconsideration, inbound compound
// packet processing and BYE transmission.
//
// # Timing
//
// An RTCPHandler keeps tp (time of the last transmission) and tn (time of
// the next scheduled one) in milliseconds, with tn = -1 meaning nothing is
// scheduled. Joining draws an initial interval and arms a REPORT timer.
// When it fires the interval is redrawn; a report goes out only if tp plus
// the new draw has already elapsed, otherwise the timer is simply re-armed
// (timer reconsideration, RFC 3550 section 6.3.6). A received BYE that
// shrinks the membership scales tn and tp towards the present (reverse
// reconsideration, section 6.3.4). Leaving cancels the timer and sends a
// BYE synchronously.
//
// # Timers
//
// Timers never capture the handler. The scheduler holds a Task value
// (session id, packet type, generation) and hands it to a Registry, which
// looks the session up and delivers it. Every re-arm bumps the generation,
// so a task that fires after being superseded is discarded, and a task for
// a session that has been unregistered is dropped by the registry.
//
// # Concurrency
//
// Timer expiry and inbound packets of one session are serialized by a
// per-handler mutex. Different sessions share nothing.
package handler
