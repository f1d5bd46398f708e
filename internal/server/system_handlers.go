package server

import (
	"net/http"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleSystemHealth reports host resources and database health. Database
// checks use the cheap ping; the integrity check is too expensive for a
// polled endpoint.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := map[string]interface{}{
		"status":     "healthy",
		"goroutines": runtime.NumGoroutine(),
	}

	databases := map[string]interface{}{}
	healthy := true

	// Ledger database
	ledgerStatus := map[string]interface{}{"status": "ok"}
	if err := s.ledgerDB.QuickCheck(ctx); err != nil {
		ledgerStatus["status"] = "error"
		ledgerStatus["error"] = err.Error()
		healthy = false
	} else if stats, err := s.ledgerDB.GetStats(); err == nil {
		ledgerStatus["size_bytes"] = stats.SizeBytes
		ledgerStatus["wal_bytes"] = stats.WALSizeBytes
	}
	databases["ledger"] = ledgerStatus

	// Cache database
	cacheStatus := map[string]interface{}{"status": "ok"}
	if err := s.cacheDB.QuickCheck(ctx); err != nil {
		cacheStatus["status"] = "error"
		cacheStatus["error"] = err.Error()
		healthy = false
	}
	databases["cache"] = cacheStatus
	response["databases"] = databases

	host := map[string]interface{}{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		host["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		host["memory_percent"] = vm.UsedPercent
		host["memory_available_mb"] = vm.Available / 1024 / 1024
	}
	if du, err := disk.Usage("/"); err == nil {
		host["disk_percent"] = du.UsedPercent
		host["disk_free_gb"] = du.Free / 1024 / 1024 / 1024
	}
	response["host"] = host

	if !healthy {
		response["status"] = "degraded"
		s.writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	s.writeJSON(w, http.StatusOK, response)
}
