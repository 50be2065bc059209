// Package config loads the forwarder's on-disk JSON configuration and
// derives the immutable, atomically-swappable runtime Snapshot that the
// supervisor publishes to the forwarders and the signal handler reads back.
package config

import (
	"fmt"
	"net"
)

// ListenIP is the hard-coded transparent listen address (§6 of the
// forwarding contract): all transparent sockets bind here, never to a
// configurable address.
var ListenIP = net.IPv4(127, 0, 0, 2)

// IPv4 is a comparable 4-byte IPv4 address, used as a map/set key where
// net.IP (a []byte slice) would not be comparable.
type IPv4 [4]byte

// ParseIPv4 parses a dotted-quad string into an IPv4.
func ParseIPv4(s string) (IPv4, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return IPv4{}, fmt.Errorf("config: invalid IPv4 address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return IPv4{}, fmt.Errorf("config: address %q is not IPv4", s)
	}
	var out IPv4
	copy(out[:], v4)
	return out, nil
}

func (a IPv4) String() string {
	return net.IPv4(a[0], a[1], a[2], a[3]).String()
}

// Net returns the net.IP form of a.
func (a IPv4) Net() net.IP {
	return net.IPv4(a[0], a[1], a[2], a[3])
}

// Entry is one line of the on-disk "udp"/"tcp" arrays: a mapping from the
// port a client originally addressed to an upstream (ip, port) pair.
// Entries participate in set semantics, so Entry must stay comparable.
type Entry struct {
	UpstreamIP   string `json:"upstream_ip"`
	UpstreamPort uint16 `json:"upstream_port"`
	OrigPort     uint16 `json:"orig_port"`
}

// FileConfig is the top-level shape of the on-disk JSON document (§6).
type FileConfig struct {
	Port uint16  `json:"port"`
	UDP  []Entry `json:"udp"`
	TCP  []Entry `json:"tcp"`
}

// Upstream is the resolved (IPv4, port) pair an original destination port
// maps to.
type Upstream struct {
	IP   IPv4
	Port uint16
}

// ForwarderMap is an immutable, concurrency-safe mapping from original
// destination port to upstream (ip, port). It is the single concrete
// container behind the lookup(port) -> option<(ip, port)> contract shared
// by the UDP and TCP maps. Two instances of this one type serve both maps;
// no Go interface type is declared for it.
type ForwarderMap struct {
	entries map[uint16]Upstream
}

// NewForwarderMap builds a ForwarderMap from a de-duplicated entry set.
func NewForwarderMap(entries []Entry) (ForwarderMap, error) {
	m := make(map[uint16]Upstream, len(entries))
	for _, e := range entries {
		ip, err := ParseIPv4(e.UpstreamIP)
		if err != nil {
			return ForwarderMap{}, err
		}
		m[e.OrigPort] = Upstream{IP: ip, Port: e.UpstreamPort}
	}
	return ForwarderMap{entries: m}, nil
}

// Lookup is a pure, non-blocking lookup by original destination port.
func (m ForwarderMap) Lookup(origPort uint16) (Upstream, bool) {
	u, ok := m.entries[origPort]
	return u, ok
}

// Len returns the number of distinct original-destination ports mapped.
func (m ForwarderMap) Len() int {
	return len(m.entries)
}

// Equal reports whether two ForwarderMaps contain exactly the same
// mappings, used to detect a no-op SIGHUP reload (§8 "Reload idempotence").
func (m ForwarderMap) Equal(other ForwarderMap) bool {
	if len(m.entries) != len(other.entries) {
		return false
	}
	for port, up := range m.entries {
		otherUp, ok := other.entries[port]
		if !ok || otherUp != up {
			return false
		}
	}
	return true
}

// Snapshot is the immutable runtime configuration object (§3): a listen
// port plus the two forwarder maps. It is shared by reference between the
// supervisor and the workers and replaced wholesale on reload — never
// mutated in place.
type Snapshot struct {
	ListenPort uint16
	UDPMap     ForwarderMap
	TCPMap     ForwarderMap
}

// Equal reports structural equality, used by the signal handler to decide
// whether a re-read configuration file actually changed anything.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.ListenPort == other.ListenPort &&
		s.UDPMap.Equal(other.UDPMap) &&
		s.TCPMap.Equal(other.TCPMap)
}
