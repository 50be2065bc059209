//go:build linux

// Package caps probes the Linux capability set the process needs before it
// may open any transparent socket: CAP_NET_ADMIN (to set IP_TRANSPARENT)
// and CAP_NET_BIND_SERVICE (to bind privileged ports while non-root).
// Capability probing is OS-specific and orthogonal to the dataplane; it is
// a prerequisite check, not part of the core forwarding logic.
package caps

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Linux capability numbers this process requires, from linux/capability.h.
const (
	CapNetBindService uint = 10
	CapNetAdmin       uint = 12
)

// ErrMissingCapabilities is returned by Require when the effective set
// lacks CAP_NET_ADMIN and/or CAP_NET_BIND_SERVICE.
var ErrMissingCapabilities = errors.New("Both CAP_NET_ADMIN & CAP_NET_BIND_SERVICE need to be effective")

// bitIndex and bitMask translate a capability number into its position
// within the two 32-bit effective-set words capget(2) returns (version 3
// covers 64 capabilities as two 32-bit words).
func bitIndex(cap uint) int {
	return int(cap >> 5)
}

func bitMask(cap uint) uint32 {
	return 1 << (cap & 31)
}

// effectiveWords returns the two 32-bit effective capability words for the
// current process via capget(2).
func effectiveWords() ([2]uint32, error) {
	hdr := unix.CapUserHeader{
		Version: unix.LINUX_CAPABILITY_VERSION_3,
		Pid:     int32(os.Getpid()),
	}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return [2]uint32{}, err
	}
	return [2]uint32{data[0].Effective, data[1].Effective}, nil
}

func hasCapability(words [2]uint32, cap uint) bool {
	idx := bitIndex(cap)
	if idx < 0 || idx >= len(words) {
		return false
	}
	return words[idx]&bitMask(cap) != 0
}

// IsCapable reports whether the process currently has both CAP_NET_ADMIN
// and CAP_NET_BIND_SERVICE in its effective set. A false return with a nil
// error means the probe succeeded but the capabilities are absent; callers
// should report ErrMissingCapabilities in that case.
func IsCapable() (bool, error) {
	words, err := effectiveWords()
	if err != nil {
		return false, err
	}
	return hasCapability(words, CapNetAdmin) && hasCapability(words, CapNetBindService), nil
}

// Require returns ErrMissingCapabilities if the process lacks either
// required capability, wrapping any capget(2) failure otherwise.
func Require() error {
	ok, err := IsCapable()
	if err != nil {
		return err
	}
	if !ok {
		return ErrMissingCapabilities
	}
	return nil
}
