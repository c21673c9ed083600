package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/registration"
)

// IdentitiesHandler handles identity registration, lookup and deletion
type IdentitiesHandler struct {
	flow      *registration.Flow
	reader    database.IdentityReader
	maxUpload int64
	onChange  func()
}

// NewIdentitiesHandler creates a new identities handler.
// onChange, when set, is called after every successful write.
func NewIdentitiesHandler(flow *registration.Flow, reader database.IdentityReader, maxUpload int64, onChange func()) *IdentitiesHandler {
	return &IdentitiesHandler{
		flow:      flow,
		reader:    reader,
		maxUpload: maxUpload,
		onChange:  onChange,
	}
}

// RegisterEmbeddingRequest is the body of POST /identities/embedding.
type RegisterEmbeddingRequest struct {
	Name                string    `json:"name"`
	Embedding           []float32 `json:"embedding"`
	DetectionConfidence *float64  `json:"detection_confidence"`
}

// EmbeddingResponse describes a stored embedding without its vector.
type EmbeddingResponse struct {
	ID                  string    `json:"id"`
	Dim                 int       `json:"dim"`
	DetectionConfidence *float64  `json:"detection_confidence"`
	Model               string    `json:"model,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// IdentityResponse describes an identity.
type IdentityResponse struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	CreatedAt  time.Time           `json:"created_at"`
	Embeddings []EmbeddingResponse `json:"embeddings"`
}

func toIdentityResponse(identity *database.Identity) IdentityResponse {
	resp := IdentityResponse{
		ID:         identity.ID,
		Name:       identity.Name,
		CreatedAt:  identity.CreatedAt,
		Embeddings: make([]EmbeddingResponse, 0, len(identity.Embeddings)),
	}
	for _, emb := range identity.Embeddings {
		resp.Embeddings = append(resp.Embeddings, EmbeddingResponse{
			ID:                  emb.ID,
			Dim:                 len(emb.Vector),
			DetectionConfidence: emb.DetectionConfidence,
			Model:               emb.Model,
			CreatedAt:           emb.CreatedAt,
		})
	}
	return resp
}

func (h *IdentitiesHandler) changed() {
	if h.onChange != nil {
		h.onChange()
	}
}

// Register handles POST /api/v1/identities with multipart name and file fields.
func (h *IdentitiesHandler) Register(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r, h.maxUpload)
	if err != nil {
		respondBadBody(w, err, "multipart fields 'name' and 'file' are required")
		return
	}

	reg, err := h.flow.RegisterImage(r.Context(), r.FormValue("name"), data)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	h.changed()
	respondJSON(w, http.StatusCreated, reg)
}

// RegisterEmbedding handles POST /api/v1/identities/embedding.
func (h *IdentitiesHandler) RegisterEmbedding(w http.ResponseWriter, r *http.Request) {
	var req RegisterEmbeddingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadBody(w, err, errInvalidRequestBody)
		return
	}

	reg, err := h.flow.Register(r.Context(), req.Name, req.Embedding, req.DetectionConfidence)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	h.changed()
	respondJSON(w, http.StatusCreated, reg)
}

// List handles GET /api/v1/identities?name=...
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "query parameter 'name' is required")
		return
	}

	identities, err := h.reader.FindIdentitiesByName(r.Context(), name)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := make([]IdentityResponse, 0, len(identities))
	for i := range identities {
		resp = append(resp, toIdentityResponse(&identities[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/identities/{id}.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	identity, err := h.reader.GetIdentity(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if identity == nil {
		respondError(w, http.StatusNotFound, database.ErrIdentityNotFound.Error())
		return
	}

	respondJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// Delete handles DELETE /api/v1/identities/{id}.
func (h *IdentitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.flow.Delete(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}

	h.changed()
	w.WriteHeader(http.StatusNoContent)
}
