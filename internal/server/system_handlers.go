package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/coffer/internal/database"
	"github.com/aristath/coffer/internal/feed"
	"github.com/aristath/coffer/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers contains HTTP handlers for process and database
// monitoring.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	databases   map[string]*database.DB
	led         *ledger.Ledger
	feedService *feed.Service
	startedAt   time.Time
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	databases map[string]*database.DB,
	led *ledger.Ledger,
	feedService *feed.Service,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		databases:   databases,
		led:         led,
		feedService: feedService,
		startedAt:   time.Now(),
	}
}

// HandleSystemStatus returns process health and the ledger overview.
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := h.getSystemStats()

	h.writeJSON(w, map[string]interface{}{
		"status":           "ok",
		"uptime_seconds":   int64(time.Since(h.startedAt).Seconds()),
		"cpu_percent":      cpuAvg,
		"ram_percent":      ramPercent,
		"vault":            h.led.Snapshot(),
		"stream_connected": h.feedService.StreamConnected(),
	})
}

// HandleDatabaseStats returns per-database file sizes.
// GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{}, len(h.databases))
	for name, db := range h.databases {
		var sizeBytes int64
		if info, err := os.Stat(db.Path()); err == nil {
			sizeBytes = info.Size()
		}
		stats[name] = map[string]interface{}{
			"path":       db.Path(),
			"size_bytes": sizeBytes,
			"profile":    string(db.Profile()),
		}
	}

	h.writeJSON(w, map[string]interface{}{
		"databases":   stats,
		"data_dir_mb": h.getDirSize(h.dataDir),
	})
}

// HandleJobsStatus returns recent job runs from the cache database.
// GET /api/system/jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	cacheDB, ok := h.databases["cache"]
	if !ok {
		h.writeJSON(w, []interface{}{})
		return
	}

	rows, err := cacheDB.Conn().Query(`
		SELECT job, success, error, duration_ms, ran_at
		FROM job_history ORDER BY ran_at DESC LIMIT 50`)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query job history")
		http.Error(w, "Failed to query job history", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	type jobRun struct {
		Job        string `json:"job"`
		Success    bool   `json:"success"`
		Error      string `json:"error,omitempty"`
		DurationMs int64  `json:"duration_ms"`
		RanAt      string `json:"ran_at"`
	}

	runs := make([]jobRun, 0, 50)
	for rows.Next() {
		var run jobRun
		var success int
		var ranAt int64
		if err := rows.Scan(&run.Job, &success, &run.Error, &run.DurationMs, &ranAt); err != nil {
			continue
		}
		run.Success = success != 0
		run.RanAt = time.Unix(ranAt, 0).Format(time.RFC3339)
		runs = append(runs, run)
	}

	h.writeJSON(w, runs)
}

// getSystemStats calculates CPU and RAM usage percentages.
// Uses a 100ms CPU sampling interval to keep the API responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
