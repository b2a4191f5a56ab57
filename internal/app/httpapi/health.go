package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

var startTime = time.Now()

type healthResponse struct {
	Status        string  `json:"status"`
	ActiveEntries int     `json:"active_entries"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	MemoryUsedPct float64 `json:"memory_used_pct,omitempty"`
	HostUptime    uint64  `json:"host_uptime_seconds,omitempty"`
}

// healthz reports liveness plus a few host figures. Host probes failing must
// never fail the check, the bridge itself is still healthy.
func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		ActiveEntries: h.app.Entries.ActiveCount(),
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	}
	if uptime, err := host.Uptime(); err == nil {
		resp.HostUptime = uptime
	}
	writeJSON(w, http.StatusOK, resp)
}
