// Package forwarder implements the transparent UDP and TCP dataplane
// workers: each owns exactly one live listen socket, reacts to the
// control-plane Action Bus, and relays traffic to the upstream a client's
// original destination port maps to.
package forwarder

import (
	"log/slog"
	"time"
)

const (
	// connBacklog bounds in-flight UDP relay tasks per forwarder (§3
	// invariant). Overflow datagrams are dropped, never queued.
	connBacklog = 100

	// connTimeout bounds the upstream connect and the wait for the
	// upstream's reply (§4.4 step 3, §4.5 steps 2 and 5); writes to the
	// upstream carry no deadline.
	connTimeout = 2 * time.Second

	// bufferSize is the fixed per-direction byte ceiling for TCP relays
	// and the UDP receive/reply buffer size (§4.5 steps 3-6; Design Note
	// "Open question" documents the TCP truncation this implies).
	bufferSize = 4096

	// drainDuration bounds the graceful wait for outstanding relay tasks
	// after SHUTDOWN/STOP before a forced exit (§4.4/§4.5 "Graceful drain").
	drainDuration = 5 * time.Second
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// discard is an io.Writer that drops everything, used so forwarders never
// have to nil-check their logger on every call.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
