package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/face-matcher/internal/database"
)

const statsCacheTTL = 30 * time.Second

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	store     database.EmbeddingStore
	threshold float64
	dim       int
	cache     statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(store database.EmbeddingStore, threshold float64, dim int) *StatsHandler {
	return &StatsHandler{
		store:     store,
		threshold: threshold,
		dim:       dim,
	}
}

// InvalidateCache clears the cached stats so the next request fetches fresh data
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	database.Stats
	Threshold float64 `json:"threshold"`
	Dim       int     `json:"dim"`
}

// Get returns store statistics
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	stats, err := database.CollectStats(r.Context(), h.store)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := &StatsResponse{
		Stats:     stats,
		Threshold: h.threshold,
		Dim:       h.dim,
	}

	h.cache.set(resp)
	respondJSON(w, http.StatusOK, resp)
}
