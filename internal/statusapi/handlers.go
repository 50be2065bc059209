package statusapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/relaymesh/tproxyd/internal/action"
	"github.com/relaymesh/tproxyd/internal/config"
)

type handler struct {
	instanceID string
	startTime  time.Time
	bus        *action.Bus
	snapshot   *config.AtomicSnapshot
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *handler) status(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := MemoryStats{}
	if vm, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vm.Total) / 1024 / 1024
		memStats.UsedMB = float64(vm.Used) / 1024 / 1024
		memStats.UsedPercent = vm.UsedPercent
	}

	cpuStats := CPUStats{NumCPU: runtime.NumCPU()}
	if pcts, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pcts) > 0 {
		cpuStats.UsedPercent = pcts[0]
	}

	snap := h.snapshot.Load()
	resp := StatusResponse{
		InstanceID:    h.instanceID,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		Action:        h.bus.Current().Kind.String(),
		CPU:           cpuStats,
		Memory:        memStats,
	}
	if snap != nil {
		resp.ListenPort = snap.ListenPort
		resp.UDPRoutes = snap.UDPMap.Len()
		resp.TCPRoutes = snap.TCPMap.Len()
	}

	c.JSON(http.StatusOK, resp)
}
