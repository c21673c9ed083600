package handlers

import (
	"log"
	"net/http"

	"github.com/kozaktomas/face-matcher/internal/embedder"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/registration"
)

// RecognizeHandler handles recognition endpoints
type RecognizeHandler struct {
	engine    *facematch.Engine
	extractor embedder.Extractor
	maxUpload int64
}

// NewRecognizeHandler creates a new recognize handler. extractor may be nil,
// in which case only raw embeddings can be recognized.
func NewRecognizeHandler(engine *facematch.Engine, extractor embedder.Extractor, maxUpload int64) *RecognizeHandler {
	return &RecognizeHandler{
		engine:    engine,
		extractor: extractor,
		maxUpload: maxUpload,
	}
}

// RecognizeEmbeddingRequest is the body of POST /recognize/embedding.
type RecognizeEmbeddingRequest struct {
	Embedding []float32 `json:"embedding"`
}

// Recognize handles POST /api/v1/recognize with a multipart image upload.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	if h.extractor == nil {
		respondDomainError(w, r, registration.ErrNoExtractor)
		return
	}

	data, err := readUpload(r, h.maxUpload)
	if err != nil {
		respondBadBody(w, err, "multipart field 'file' is required")
		return
	}

	extraction, err := h.extractor.Extract(r.Context(), data)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	h.recognize(w, r, extraction.Vector)
}

// RecognizeEmbedding handles POST /api/v1/recognize/embedding.
func (h *RecognizeHandler) RecognizeEmbedding(w http.ResponseWriter, r *http.Request) {
	var req RecognizeEmbeddingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadBody(w, err, errInvalidRequestBody)
		return
	}

	query, err := facematch.NormalizeFloat32(req.Embedding)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	h.recognize(w, r, query)
}

func (h *RecognizeHandler) recognize(w http.ResponseWriter, r *http.Request, query []float32) {
	result, err := h.engine.Recognize(r.Context(), query)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	switch {
	case !result.CandidateFound:
		log.Printf("recognize: store is empty")
	case result.Matched:
		log.Printf("recognize: matched %s (similarity %.4f)", *result.OwnerID, result.Similarity)
	default:
		log.Printf("recognize: no match (best similarity %.4f)", result.Similarity)
	}

	respondJSON(w, http.StatusOK, result)
}
