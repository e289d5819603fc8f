// Package adminapi exposes the operational HTTP surface for tgfsd:
// health/readiness/liveness probes, a Prometheus scrape endpoint, and
// debug introspection of the account pool and chunk cache. The S3
// passthrough surface the teacher served here is out of scope (spec.md
// excludes an S3-compatible proxy); this is the operator-facing surface
// left in its place. Wiring style (Handler struct, NewHandler
// constructor, RegisterRoutes) follows the teacher's internal/api/
// handlers.go.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mvance/tgfs/internal/cache"
	"github.com/mvance/tgfs/internal/debug"
	"github.com/mvance/tgfs/internal/metadata"
	"github.com/mvance/tgfs/internal/metrics"
	"github.com/mvance/tgfs/internal/pool"
)

var errNotReady = errors.New("account pool cannot operate: too many accounts unavailable")

// Handler serves the admin HTTP surface.
type Handler struct {
	pool    *pool.Pool
	cache   *cache.ChunkCache
	meta    *metadata.Store
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewHandler creates a new admin API handler.
func NewHandler(p *pool.Pool, c *cache.ChunkCache, meta *metadata.Store, logger *logrus.Logger, m *metrics.Metrics) *Handler {
	return &Handler{pool: p, cache: c, meta: meta, logger: logger, metrics: m}
}

// RegisterRoutes registers every admin route on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.handleHealth).Methods("GET")
	r.HandleFunc("/readyz", h.handleReady).Methods("GET")
	r.HandleFunc("/livez", h.handleLive).Methods("GET")
	r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	r.HandleFunc("/debug/pool", h.handleDebugPool).Methods("GET")
	r.HandleFunc("/debug/cache", h.handleDebugCache).Methods("GET")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.HealthHandler()(w, r)
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	metrics.ReadinessHandler(func(ctx context.Context) error {
		if !h.pool.CanOperate() {
			return errNotReady
		}
		return nil
	})(w, r)
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	metrics.LivenessHandler()(w, r)
}

type poolDebugResponse struct {
	CanOperate   bool              `json:"can_operate"`
	ArrayStatus  string            `json:"array_status"`
	AccountCount int               `json:"account_count"`
	DataShards   int               `json:"data_shards"`
	TotalShards  int               `json:"total_shards"`
}

// handleDebugPool reports the account pool's current health snapshot.
func (h *Handler) handleDebugPool(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	health := h.pool.Health().ArrayHealth()

	resp := poolDebugResponse{
		CanOperate:   h.pool.CanOperate(),
		ArrayStatus:  string(health.Status),
		AccountCount: h.pool.AccountCount(),
		DataShards:   h.pool.DataShards(),
		TotalShards:  h.pool.TotalShards(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
	if debug.Enabled() {
		h.logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("served /debug/pool")
	}
}

type cacheDebugResponse struct {
	CurrentSize      uint64  `json:"current_size_bytes"`
	MaxSize          uint64  `json:"max_size_bytes"`
	Utilization      float64 `json:"utilization"`
	ChunkCount       int     `json:"chunk_count"`
	PrefetchQueueLen int     `json:"prefetch_queue_len"`
}

// handleDebugCache reports the on-disk chunk cache's current statistics.
func (h *Handler) handleDebugCache(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.StatsSnapshot()
	resp := cacheDebugResponse{
		CurrentSize:      stats.CurrentSize,
		MaxSize:          stats.MaxSize,
		Utilization:      stats.Utilization(),
		ChunkCount:       stats.ChunkCount,
		PrefetchQueueLen: stats.PrefetchQueueLen,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
