// Package sdnotify sends the systemd service-manager notification protocol
// (sd_notify(3)) datagrams described in §6: READY, RELOADING, STOPPING, and
// an arbitrary STATUS string. These notifications are best-effort per §4.3
// — a missing or unreachable socket is silently a no-op, never an error
// that could affect the dataplane.
package sdnotify

import (
	"fmt"
	"net"
	"os"
	"time"
)

// State strings per the sd_notify wire protocol.
const (
	Ready     = "READY=1"
	Stopping  = "STOPPING=1"
	Reloading = "RELOADING=1"
)

// Status formats a STATUS= line.
func Status(s string) string {
	return "STATUS=" + s
}

// MonotonicUsec formats a MONOTONIC_USEC= line using the given instant,
// required alongside RELOADING=1 by newer systemd versions.
func MonotonicUsec(t time.Time) string {
	return fmt.Sprintf("MONOTONIC_USEC=%d", t.UnixMicro())
}

// Notify writes state (joined with newlines if more than one is given) to
// the socket named by $NOTIFY_SOCKET. It is a silent no-op when that
// variable is unset, which is the common case outside systemd.
func Notify(state ...string) error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}

	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return nil //nolint:nilerr // best-effort per §4.3
	}
	defer conn.Close()

	msg := ""
	for i, s := range state {
		if i > 0 {
			msg += "\n"
		}
		msg += s
	}
	_, _ = conn.Write([]byte(msg))
	return nil
}
