package service

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/kaspernux/1000proxy-sub002/logger"
)

// HostStatus reports resource usage of the master host itself, exposed on
// the admin health endpoint.
type HostStatus struct {
	CPUPercent float64 `json:"cpuPercent"`
	MemUsed    uint64  `json:"memUsed"`
	MemTotal   uint64  `json:"memTotal"`
	Uptime     uint64  `json:"uptime"`
	CollectedAt int64  `json:"collectedAt"`
}

// StatusService samples host metrics.
type StatusService struct{}

func NewStatusService() *StatusService {
	return &StatusService{}
}

func (s *StatusService) GetHostStatus() *HostStatus {
	status := &HostStatus{CollectedAt: time.Now().Unix()}

	percents, err := cpu.Percent(0, false)
	if err != nil {
		logger.Warningf("status: failed to read cpu usage: %v", err)
	} else if len(percents) > 0 {
		status.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warningf("status: failed to read memory usage: %v", err)
	} else {
		status.MemUsed = vm.Used
		status.MemTotal = vm.Total
	}

	uptime, err := host.Uptime()
	if err != nil {
		logger.Warningf("status: failed to read uptime: %v", err)
	} else {
		status.Uptime = uptime
	}

	return status
}
