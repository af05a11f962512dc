package transport

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/pkg/models"
)

// systemStats samples host memory and CPU usage. It returns nil when neither
// can be read, e.g. inside restricted sandboxes.
func systemStats() *models.SystemStats {
	stats := &models.SystemStats{}
	ok := false

	if vmStat, err := mem.VirtualMemory(); err == nil {
		stats.MemoryUsedPercent = vmStat.UsedPercent
		ok = true
	} else {
		logger.WithError(err).Debug("Failed to read memory usage")
	}

	// Non-blocking sample since the previous call, averaged over all cores
	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUUsedPercent = percentages[0]
		ok = true
	} else if err != nil {
		logger.WithError(err).Debug("Failed to read CPU usage")
	}

	if !ok {
		return nil
	}
	return stats
}
