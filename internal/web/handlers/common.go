package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/embedder"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/registration"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, registration.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, facematch.ErrInvalidEmbedding),
		errors.Is(err, embedder.ErrNoFaceFound),
		errors.Is(err, embedder.ErrAmbiguousInput),
		errors.Is(err, embedder.ErrInvalidImage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, database.ErrIdentityNotFound):
		return http.StatusNotFound
	case errors.Is(err, facematch.ErrStoreUnavailable),
		errors.Is(err, registration.ErrNoExtractor):
		return http.StatusServiceUnavailable
	case errors.Is(err, embedder.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		// Includes facematch.ErrDimensionMismatch: mixed dimensions in storage.
		return http.StatusInternalServerError
	}
}

// respondDomainError maps err to a status and writes it. Server-side failures are
// logged with their cause and reported without internal detail.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, sanitizeForLog(r.URL.Path), err)
		respondError(w, status, http.StatusText(status))
		return
	}
	respondError(w, status, err.Error())
}

// decodeJSON decodes a request body, rejecting unknown fields and trailing data.
func decodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// respondBadBody reports an unreadable request body as 413 when the size
// limit was hit and as 400 with message otherwise.
func respondBadBody(w http.ResponseWriter, err error, message string) {
	if statusForError(err) == http.StatusRequestEntityTooLarge {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	respondError(w, http.StatusBadRequest, message)
}

// readUpload reads the multipart "file" field.
func readUpload(r *http.Request, maxSize int64) ([]byte, error) {
	if err := r.ParseMultipartForm(maxSize); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	strategy database.Strategy
	pinger   Pinger
}

// NewHealthHandler creates a health handler. pinger may be nil.
func NewHealthHandler(strategy database.Strategy, pinger Pinger) *HealthHandler {
	return &HealthHandler{strategy: strategy, pinger: pinger}
}

// HealthCheck handles GET /api/v1/health.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			log.Printf("health check: %v", err)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "unavailable",
				"strategy": string(h.strategy),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"strategy": string(h.strategy),
	})
}
