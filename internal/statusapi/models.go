// Package statusapi exposes a best-effort, read-only HTTP surface: a health
// probe and an operational status page showing what the forwarder is
// currently doing. It is explicitly NOT part of the supervisor's worker
// join — its own failures are logged and never escalated onto the Action
// Bus (SPEC_FULL's closing non-goals note: "an operational read-only
// surface, not a policy or accounting layer").
package statusapi

import "time"

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// MemoryStats mirrors the subset of gopsutil's mem.VirtualMemoryStat the
// status page cares about.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// CPUStats mirrors the subset of gopsutil's cpu.Percent the status page
// cares about.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	InstanceID    string      `json:"instance_id"`
	Uptime        string      `json:"uptime"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     time.Time   `json:"start_time"`
	Action        string      `json:"action"`
	ListenPort    uint16      `json:"listen_port"`
	UDPRoutes     int         `json:"udp_routes"`
	TCPRoutes     int         `json:"tcp_routes"`
	CPU           CPUStats    `json:"cpu"`
	Memory        MemoryStats `json:"memory"`
}
