package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/database/mock"
	"github.com/kozaktomas/face-matcher/internal/embedder"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/registration"
)

const (
	testDim       = 3
	testThreshold = 0.7
	testMaxUpload = 1 << 20
)

// stubExtractor returns a fixed extraction or error
type stubExtractor struct {
	extraction *embedder.Extraction
	err        error
	calls      int
}

func (s *stubExtractor) Extract(ctx context.Context, image []byte) (*embedder.Extraction, error) {
	s.calls++
	return s.extraction, s.err
}

// testEngine creates an engine over store with the test dimension and threshold
func testEngine(t *testing.T, store facematch.CandidateFinder) *facematch.Engine {
	t.Helper()
	engine, err := facematch.NewEngine(store, facematch.EngineConfig{Dim: testDim, Threshold: testThreshold})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

// testFlow creates a registration flow over store
func testFlow(store database.IdentityWriter, ex embedder.Extractor) *registration.Flow {
	return registration.NewFlow(store, ex, registration.Config{Dim: testDim, Model: "buffalo_l"})
}

// seedIdentity adds an identity with one embedding to the mock store
func seedIdentity(store *mock.MockStore, id, name string, vec ...float32) {
	store.AddIdentity(database.Identity{
		ID:   id,
		Name: name,
		Embeddings: []database.FaceEmbedding{{
			ID:      id + "-emb",
			OwnerID: id,
			Vector:  vec,
		}},
	})
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest creates a multipart request with the given fields and an optional file
func multipartRequest(t *testing.T, path string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if file != nil {
		part, err := writer.CreateFormFile("file", "face.jpg")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(file)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
