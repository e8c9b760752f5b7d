package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// sysInfoResp is a trimmed projection of mbp/api/system_Info.go's
// SysInfoResp: host/cpu/memory/disk/runtime, without the network
// rate-sampling and process/socket counters a log-ingestion admin surface
// has no use for.
type sysInfoResp struct {
	Timestamp int64 `json:"timestamp"`

	App struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
	} `json:"app"`

	Host struct {
		Hostname string `json:"hostname"`
		OS       string `json:"os"`
		Platform string `json:"platform"`
		Arch     string `json:"arch"`
		Uptime   uint64 `json:"uptime"`
	} `json:"host"`

	CPU struct {
		Cores      int     `json:"cores"`
		UsageTotal float64 `json:"usage_total"`
		Load1      float64 `json:"load1"`
		Load5      float64 `json:"load5"`
		Load15     float64 `json:"load15"`
	} `json:"cpu"`

	Memory struct {
		Total       uint64  `json:"total"`
		Used        uint64  `json:"used"`
		UsedPercent float64 `json:"used_percent"`
	} `json:"memory"`

	Disks []struct {
		Mountpoint  string  `json:"mountpoint"`
		Total       uint64  `json:"total"`
		Used        uint64  `json:"used"`
		UsedPercent float64 `json:"used_percent"`
	} `json:"disks"`
}

var buildVersion = "latest"

// GET /api/systemInfo
func (s *Server) systemInfo(c *gin.Context) {
	now := time.Now()
	hi, _ := host.Info()
	vm, _ := mem.VirtualMemory()
	ld, _ := load.Avg()
	logical, _ := cpu.Counts(true)
	perCore, _ := cpu.Percent(0, true)
	parts, _ := disk.Partitions(false)

	var usageTotal float64
	if len(perCore) > 0 {
		var sum float64
		for _, v := range perCore {
			sum += v
		}
		usageTotal = sum / float64(len(perCore))
	}

	resp := sysInfoResp{Timestamp: now.UnixMilli()}
	resp.App.Version = buildVersion
	resp.App.GoVersion = runtime.Version()

	if hi != nil {
		resp.Host.Hostname = hi.Hostname
		resp.Host.OS = hi.OS
		resp.Host.Platform = hi.Platform
		resp.Host.Uptime = hi.Uptime
	}
	resp.Host.Arch = runtime.GOARCH

	resp.CPU.Cores = logical
	resp.CPU.UsageTotal = usageTotal
	if ld != nil {
		resp.CPU.Load1, resp.CPU.Load5, resp.CPU.Load15 = ld.Load1, ld.Load5, ld.Load15
	}

	if vm != nil {
		resp.Memory.Total = vm.Total
		resp.Memory.Used = vm.Used
		resp.Memory.UsedPercent = vm.UsedPercent
	}

	for _, p := range parts {
		u, err := disk.Usage(p.Mountpoint)
		if err != nil {
			continue
		}
		resp.Disks = append(resp.Disks, struct {
			Mountpoint  string  `json:"mountpoint"`
			Total       uint64  `json:"total"`
			Used        uint64  `json:"used"`
			UsedPercent float64 `json:"used_percent"`
		}{p.Mountpoint, u.Total, u.Used, u.UsedPercent})
	}

	writeJSON(c, http.StatusOK, resp)
}
