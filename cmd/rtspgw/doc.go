// Package main provides the command-line entry point of the RTP relay
// gateway.
//
// The gateway listens on one UDP socket, opens the sessions listed in its
// YAML configuration and relays their media until interrupted, sending an
// RTCP BYE to every peer on shutdown.
package main
