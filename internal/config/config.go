package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// Load reads and parses the on-disk JSON configuration document at path,
// de-duplicating the "udp" and "tcp" arrays into set semantics before
// handing back the parsed FileConfig (duplicates in the input collapse;
// order is never significant downstream).
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	fc.UDP = dedupe(fc.UDP)
	fc.TCP = dedupe(fc.TCP)
	return &fc, nil
}

// dedupe collapses a slice of Entry into set semantics, preserving the
// first occurrence of each distinct value.
func dedupe(entries []Entry) []Entry {
	if len(entries) == 0 {
		return entries
	}
	seen := make(map[Entry]struct{}, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// BuildSnapshot derives the immutable runtime Snapshot (§3) from a parsed
// FileConfig.
func BuildSnapshot(fc *FileConfig) (*Snapshot, error) {
	udp, err := NewForwarderMap(fc.UDP)
	if err != nil {
		return nil, fmt.Errorf("config: udp map: %w", err)
	}
	tcp, err := NewForwarderMap(fc.TCP)
	if err != nil {
		return nil, fmt.Errorf("config: tcp map: %w", err)
	}
	return &Snapshot{
		ListenPort: fc.Port,
		UDPMap:     udp,
		TCPMap:     tcp,
	}, nil
}

// LoadSnapshot is the common path: read + parse + build in one call.
func LoadSnapshot(path string) (*Snapshot, error) {
	fc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return BuildSnapshot(fc)
}

// ErrNoConfigSource is returned by ResolveConfigPath when neither
// CONFIG_FILE nor CONFIGURATION_DIRECTORY is set.
var ErrNoConfigSource = errors.New("config: neither CONFIG_FILE nor CONFIGURATION_DIRECTORY is set")

// ResolveConfigPath implements the §6 environment-variable contract:
// CONFIG_FILE and CONFIGURATION_DIRECTORY are mutually exclusive; the
// latter implies "<dir>/<appName>.json". Absence of both is a fatal
// startup error.
func ResolveConfigPath(appName string) (string, error) {
	file := os.Getenv("CONFIG_FILE")
	dir := os.Getenv("CONFIGURATION_DIRECTORY")

	switch {
	case file != "" && dir != "":
		return "", fmt.Errorf("config: CONFIG_FILE and CONFIGURATION_DIRECTORY are mutually exclusive")
	case file != "":
		return file, nil
	case dir != "":
		return filepath.Join(dir, appName+".json"), nil
	default:
		return "", ErrNoConfigSource
	}
}

// ResolveLogPath implements the §6 LOGS_DIRECTORY contract: if the
// directory is set and a log file can be opened for append inside it,
// logs go to "<dir>/<appName>.log"; otherwise the caller falls back to
// stdout. The returned bool is false whenever stdout should be used.
func ResolveLogPath(appName string) (string, bool) {
	dir := os.Getenv("LOGS_DIRECTORY")
	if dir == "" {
		return "", false
	}

	path := filepath.Join(dir, appName+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", false
	}
	_ = f.Close()
	return path, true
}

// AtomicSnapshot is the Supervisor-owned, atomically-swappable slot holding
// the current Snapshot (§3 "Ownership"). Workers read the current value at
// task-spawn time and re-read it on RELOAD; no reader/writer lock sits on
// the hot path.
type AtomicSnapshot struct {
	ptr atomic.Pointer[Snapshot]
}

// NewAtomicSnapshot creates a slot holding the given initial Snapshot.
func NewAtomicSnapshot(s *Snapshot) *AtomicSnapshot {
	a := &AtomicSnapshot{}
	a.ptr.Store(s)
	return a
}

// Load returns the current Snapshot.
func (a *AtomicSnapshot) Load() *Snapshot {
	return a.ptr.Load()
}

// Store atomically replaces the current Snapshot.
func (a *AtomicSnapshot) Store(s *Snapshot) {
	a.ptr.Store(s)
}
