// Package rtspgw implements an RTP media relay gateway with RFC 3550 RTCP
// session management.
//
// A Gateway owns one UDP socket, a worker pool that runs RTCP timers and a
// registry of RTCP sessions. Every session is bound to one remote peer and
// gets its own handler pipeline, probed in priority order:
//
//	STUN  binding requests (consent and keepalive checks)
//	DTLS  records, when the session keys SRTP through DTLS
//	RTCP  compound packets (first byte in [128, 191], first type SR or RR)
//	RTP   media, forwarded to the session's downstream targets
//
// # Getting Started
//
//	options := rtspgw.NewOptions()
//	options.ListenAddr = "0.0.0.0:5004"
//
//	g, err := rtspgw.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := g.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer g.Close()
//
//	camera, _ := net.ResolveUDPAddr("udp", "192.0.2.10:30000")
//	viewer, _ := net.ResolveUDPAddr("udp", "192.0.2.20:40000")
//	session, err := g.OpenSession(&rtspgw.SessionConfig{
//	    Remote:  camera,
//	    Targets: []relay.Target{{RTP: viewer}},
//	})
//
// OpenSession joins the RTP session: the first report goes out after the
// initial RTCP interval and reports follow at randomized intervals scaled to
// the session membership. CloseSession sends a BYE before it returns.
//
// # Secure Sessions
//
// SecurePreShared derives SRTP master keys from a shared secret with
// HKDF-SHA256. SecureDTLS runs a DTLS handshake over the media socket and
// exports the keys from it (RFC 5764). Until the keys are in place the
// session neither sends nor accepts RTCP and drops inbound media.
//
// # Configuration
//
// Options can be loaded from YAML with LoadOptions. The file may list
// sessions to open at startup, which the rtspgw command does.
package rtspgw
