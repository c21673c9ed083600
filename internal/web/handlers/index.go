package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/kozaktomas/face-matcher/internal/database"
)

// IndexHandler handles in-process index maintenance
type IndexHandler struct {
	store    database.EmbeddingStore
	onChange func()
}

// NewIndexHandler creates a new index handler
func NewIndexHandler(store database.EmbeddingStore, onChange func()) *IndexHandler {
	return &IndexHandler{store: store, onChange: onChange}
}

// RebuildResponse is returned after a successful rebuild.
type RebuildResponse struct {
	Strategy  database.Strategy `json:"strategy"`
	IndexSize int               `json:"index_size"`
	Duration  string            `json:"duration"`
}

// Rebuild handles POST /api/v1/index/rebuild.
func (h *IndexHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	rebuilder, ok := h.store.(database.IndexRebuilder)
	if !ok || h.store.Strategy() != database.StrategyHNSW {
		respondError(w, http.StatusConflict, "no in-process index for strategy "+string(h.store.Strategy()))
		return
	}

	start := time.Now()
	if err := rebuilder.RebuildIndex(r.Context()); err != nil {
		respondDomainError(w, r, err)
		return
	}
	elapsed := time.Since(start)
	log.Printf("index rebuilt: %d entries in %v", rebuilder.IndexCount(), elapsed)

	if h.onChange != nil {
		h.onChange()
	}
	respondJSON(w, http.StatusOK, RebuildResponse{
		Strategy:  h.store.Strategy(),
		IndexSize: rebuilder.IndexCount(),
		Duration:  elapsed.Round(time.Millisecond).String(),
	})
}
