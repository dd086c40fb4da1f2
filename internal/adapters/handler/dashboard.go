// Package handler implements HTTP request handlers for the ops dashboard
package handler

import (
	"database/sql"
	"log/slog"
	"math"
	"net/http"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// DashboardHandler exposes process/system health and dispatch counters for
// the operations console
type DashboardHandler struct {
	db     *sql.DB
	redis  *redis.Client
	broker *StreamBroker
	secret string
}

// NewDashboardHandler creates a new dashboard handler instance
func NewDashboardHandler(db *sql.DB, rdb *redis.Client, broker *StreamBroker, secret string) *DashboardHandler {
	return &DashboardHandler{
		db:     db,
		redis:  rdb,
		broker: broker,
		secret: secret,
	}
}

var appStartTime = time.Now()

// SystemMetricsResponse represents system health data
type SystemMetricsResponse struct {
	CPUPercent      float64 `json:"cpu_percent"`
	RAMUsedGB       float64 `json:"ram_used_gb"`
	RAMTotalGB      float64 `json:"ram_total_gb"`
	RAMPercent      float64 `json:"ram_percent"`
	DiskUsedGB      float64 `json:"disk_used_gb"`
	DiskTotalGB     float64 `json:"disk_total_gb"`
	DiskPercent     float64 `json:"disk_percent"`
	GoroutinesCount int     `json:"goroutines_count"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	OpenStreams     int     `json:"open_streams"`
	DBHealthy       bool    `json:"db_healthy"`
	RedisHealthy    bool    `json:"redis_healthy"`
}

// DispatchStatsResponse summarizes routing state from the record of truth
type DispatchStatsResponse struct {
	OpenConversations       int `json:"open_conversations"`
	UnassignedConversations int `json:"unassigned_conversations"`
	AwaitingFirstReply      int `json:"awaiting_first_reply"`
	MessagesToday           int `json:"messages_today"`
}

// HandleMetrics handles GET /admin/dashboard/metrics
func (h *DashboardHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" || r.Header.Get("X-Dispatch-Secret") != h.secret {
		writeError(w, http.StatusUnauthorized, "invalid or missing secret")
		return
	}

	ctx := r.Context()

	cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false)
	var cpuPercent float64
	if err == nil && len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	var ramUsedGB, ramTotalGB, ramPercent float64
	if err == nil {
		ramUsedGB = float64(memStat.Used) / 1024 / 1024 / 1024
		ramTotalGB = float64(memStat.Total) / 1024 / 1024 / 1024
		ramPercent = memStat.UsedPercent
	}

	diskStat, err := disk.UsageWithContext(ctx, ".")
	var diskUsedGB, diskTotalGB, diskPercent float64
	if err == nil {
		diskUsedGB = float64(diskStat.Used) / 1024 / 1024 / 1024
		diskTotalGB = float64(diskStat.Total) / 1024 / 1024 / 1024
		diskPercent = diskStat.UsedPercent
	}

	response := SystemMetricsResponse{
		CPUPercent:      roundTo2Decimals(cpuPercent),
		RAMUsedGB:       roundTo2Decimals(ramUsedGB),
		RAMTotalGB:      roundTo2Decimals(ramTotalGB),
		RAMPercent:      roundTo2Decimals(ramPercent),
		DiskUsedGB:      roundTo2Decimals(diskUsedGB),
		DiskTotalGB:     roundTo2Decimals(diskTotalGB),
		DiskPercent:     roundTo2Decimals(diskPercent),
		GoroutinesCount: runtime.NumGoroutine(),
		UptimeSeconds:   int64(time.Since(appStartTime).Seconds()),
		OpenStreams:     h.broker.StreamCount(),
		DBHealthy:       h.db.PingContext(ctx) == nil,
		RedisHealthy:    h.redis.Ping(ctx).Err() == nil,
	}

	writeJSON(w, http.StatusOK, response)
}

// HandleDispatchStats handles GET /admin/dashboard/dispatch
func (h *DashboardHandler) HandleDispatchStats(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" || r.Header.Get("X-Dispatch-Secret") != h.secret {
		writeError(w, http.StatusUnauthorized, "invalid or missing secret")
		return
	}

	ctx := r.Context()
	var stats DispatchStatsResponse

	queries := []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM conversations WHERE status = 'open'`, &stats.OpenConversations},
		{`SELECT COUNT(*) FROM conversations WHERE status = 'open' AND assignee_id IS NULL`, &stats.UnassignedConversations},
		{`SELECT COUNT(*) FROM conversations WHERE status = 'open' AND assignee_id IS NOT NULL AND first_reply_at IS NULL`, &stats.AwaitingFirstReply},
		{`SELECT COUNT(*) FROM messages WHERE DATE(created_at) = CURDATE()`, &stats.MessagesToday},
	}

	for _, q := range queries {
		if err := h.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			slog.Error("Dashboard stats query failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// roundTo2Decimals rounds for display
func roundTo2Decimals(v float64) float64 {
	return math.Round(v*100) / 100
}
