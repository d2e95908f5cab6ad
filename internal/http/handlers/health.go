package handlers

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"gorm.io/gorm"

	"github.com/shelfarr/shelfarr/internal/cache"
	"github.com/shelfarr/shelfarr/internal/provider"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	store     *cache.Store
	gateway   *provider.Gateway
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithCacheStore sets the asset cache for health checks.
func (h *HealthHandler) WithCacheStore(store *cache.Store) *HealthHandler {
	h.store = store
	return h
}

// WithGateway sets the provider gateway for circuit breaker reporting.
func (h *HealthHandler) WithGateway(gateway *provider.Gateway) *HealthHandler {
	h.gateway = gateway
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including database, cache and provider status",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	System        SystemHealth      `json:"system"`
	Database      DatabaseHealth    `json:"database"`
	Cache         CacheHealth       `json:"cache"`
	Providers     []ProviderHealth  `json:"providers,omitempty"`
	Checks        map[string]string `json:"checks"`
}

// SystemHealth reports host load and memory.
type SystemHealth struct {
	CPUCores          int     `json:"cpu_cores"`
	Load1Min          float64 `json:"load_1min"`
	Load5Min          float64 `json:"load_5min"`
	Load15Min         float64 `json:"load_15min"`
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
}

// DatabaseHealth reports connection pool usage and ping latency.
type DatabaseHealth struct {
	Status            string  `json:"status"`
	ResponseTimeMS    float64 `json:"response_time_ms"`
	ActiveConnections int     `json:"active_connections"`
	IdleConnections   int     `json:"idle_connections"`
}

// CacheHealth reports asset cache occupancy and disk headroom.
type CacheHealth struct {
	Status      string  `json:"status"`
	EntryCount  int64   `json:"entry_count"`
	TotalBytes  int64   `json:"total_bytes"`
	DiskFree    uint64  `json:"disk_free"`
	DiskUsedPct float64 `json:"disk_used_pct"`
}

// ProviderHealth reports one provider's circuit breaker state.
type ProviderHealth struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	Failures      int    `json:"failures"`
	TotalRequests int64  `json:"total_requests"`
	TotalFailures int64  `json:"total_failures"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.databaseHealth(ctx)
	cacheHealth := h.cacheHealth(ctx)

	status := "healthy"
	if dbHealth.Status == "error" || cacheHealth.Status == "error" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			System:        h.systemHealth(),
			Database:      dbHealth,
			Cache:         cacheHealth,
			Providers:     h.providerHealth(),
			Checks: map[string]string{
				"database": dbHealth.Status,
				"cache":    cacheHealth.Status,
			},
		},
	}, nil
}

func (h *HealthHandler) systemHealth() SystemHealth {
	info := SystemHealth{CPUCores: runtime.NumCPU()}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
	}

	if vmStat, err := mem.VirtualMemory(); err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	return info
}

func (h *HealthHandler) databaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "ok"}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}

	return health
}

func (h *HealthHandler) cacheHealth(ctx context.Context) CacheHealth {
	health := CacheHealth{Status: "ok"}

	if h.store == nil {
		health.Status = "unknown"
		return health
	}

	stats, err := h.store.Stats(ctx)
	if err != nil {
		health.Status = "error"
		return health
	}

	health.EntryCount = stats.EntryCount
	health.TotalBytes = stats.TotalBytes
	health.DiskFree = stats.DiskFree
	health.DiskUsedPct = stats.DiskUsedPct
	return health
}

func (h *HealthHandler) providerHealth() []ProviderHealth {
	if h.gateway == nil {
		return nil
	}

	stats := h.gateway.BreakerStats()
	providers := make([]ProviderHealth, 0, len(stats))
	for name, s := range stats {
		providers = append(providers, ProviderHealth{
			Name:          name,
			State:         s.State.String(),
			Failures:      s.Failures,
			TotalRequests: s.TotalRequests,
			TotalFailures: s.TotalFailures,
		})
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].Name < providers[j].Name })
	return providers
}
