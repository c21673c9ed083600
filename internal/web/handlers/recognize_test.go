package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-matcher/internal/database/mock"
	"github.com/kozaktomas/face-matcher/internal/embedder"
	"github.com/kozaktomas/face-matcher/internal/facematch"
)

func TestRecognizeEmbedding(t *testing.T) {
	tests := []struct {
		name            string
		seed            bool
		body            any
		expectedStatus  int
		expectedMatched bool
		expectedOwner   any
		expectedSim     float64
	}{
		{
			name:            "match",
			seed:            true,
			body:            map[string]any{"embedding": []float32{2, 0, 0}},
			expectedStatus:  http.StatusOK,
			expectedMatched: true,
			expectedOwner:   "alice",
			expectedSim:     1,
		},
		{
			name:           "below threshold",
			seed:           true,
			body:           map[string]any{"embedding": []float32{0, 1, 0}},
			expectedStatus: http.StatusOK,
			expectedOwner:  nil,
			expectedSim:    0,
		},
		{
			name:           "empty store",
			body:           map[string]any{"embedding": []float32{1, 0, 0}},
			expectedStatus: http.StatusOK,
			expectedOwner:  nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := mock.NewMockStore()
			if tc.seed {
				seedIdentity(store, "alice", "Alice", 1, 0, 0)
			}
			handler := NewRecognizeHandler(testEngine(t, store), nil, testMaxUpload)
			recorder := httptest.NewRecorder()

			handler.RecognizeEmbedding(recorder, jsonRequest(t, "POST", "/api/v1/recognize/embedding", tc.body))

			assertStatusCode(t, recorder, tc.expectedStatus)
			assertContentType(t, recorder, "application/json")

			var result map[string]any
			parseJSONResponse(t, recorder, &result)
			if result["matched"] != tc.expectedMatched {
				t.Errorf("expected matched %v, got %v", tc.expectedMatched, result["matched"])
			}
			if owner, ok := result["owner_id"]; !ok || owner != tc.expectedOwner {
				t.Errorf("expected owner_id %v, got %v (present=%v)", tc.expectedOwner, owner, ok)
			}
			if sim, _ := result["similarity"].(float64); sim < tc.expectedSim-1e-6 || sim > tc.expectedSim+1e-6 {
				t.Errorf("expected similarity %v, got %v", tc.expectedSim, result["similarity"])
			}
			if _, ok := result["CandidateFound"]; ok {
				t.Error("CandidateFound must not be serialized")
			}
		})
	}
}

func TestRecognizeEmbedding_Errors(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		storeErr       error
		expectedStatus int
	}{
		{"wrong dimension", map[string]any{"embedding": []float32{1, 0}}, nil, http.StatusUnprocessableEntity},
		{"zero vector", map[string]any{"embedding": []float32{0, 0, 0}}, nil, http.StatusUnprocessableEntity},
		{"missing embedding", map[string]any{}, nil, http.StatusUnprocessableEntity},
		{"unknown field", map[string]any{"embedding": []float32{1, 0, 0}, "extra": 1}, nil, http.StatusBadRequest},
		{"not an object", []int{1, 2, 3}, nil, http.StatusBadRequest},
		{"store down", map[string]any{"embedding": []float32{1, 0, 0}}, facematch.NewStoreError("query", errors.New("down")), http.StatusServiceUnavailable},
		{"stored dimension differs", map[string]any{"embedding": []float32{1, 0, 0}}, &facematch.DimensionMismatchError{Want: 3, Got: 4}, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := mock.NewMockStore()
			store.FindBestMatchError = tc.storeErr
			handler := NewRecognizeHandler(testEngine(t, store), nil, testMaxUpload)
			recorder := httptest.NewRecorder()

			handler.RecognizeEmbedding(recorder, jsonRequest(t, "POST", "/api/v1/recognize/embedding", tc.body))

			assertStatusCode(t, recorder, tc.expectedStatus)
		})
	}
}

func TestRecognizeEmbedding_RejectsBeforeStoreAccess(t *testing.T) {
	store := mock.NewMockStore()
	handler := NewRecognizeHandler(testEngine(t, store), nil, testMaxUpload)
	recorder := httptest.NewRecorder()

	handler.RecognizeEmbedding(recorder, jsonRequest(t, "POST", "/api/v1/recognize/embedding", map[string]any{"embedding": []float32{1, 0, 0, 0}}))

	assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
	if store.FindBestMatchCalls != 0 {
		t.Errorf("expected no store access, got %d calls", store.FindBestMatchCalls)
	}
}

func TestRecognize_Image(t *testing.T) {
	tests := []struct {
		name           string
		extractor      *stubExtractor
		file           []byte
		expectedStatus int
	}{
		{
			name:           "matched face",
			extractor:      &stubExtractor{extraction: &embedder.Extraction{Vector: []float32{1, 0, 0}, DetectionConfidence: 0.9}},
			file:           []byte("jpeg"),
			expectedStatus: http.StatusOK,
		},
		{
			name:           "no face",
			extractor:      &stubExtractor{err: embedder.ErrNoFaceFound},
			file:           []byte("jpeg"),
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "several faces",
			extractor:      &stubExtractor{err: embedder.ErrAmbiguousInput},
			file:           []byte("jpeg"),
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "sidecar down",
			extractor:      &stubExtractor{err: embedder.ErrUnavailable},
			file:           []byte("jpeg"),
			expectedStatus: http.StatusBadGateway,
		},
		{
			name:           "missing file",
			extractor:      &stubExtractor{},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := mock.NewMockStore()
			seedIdentity(store, "alice", "Alice", 1, 0, 0)
			handler := NewRecognizeHandler(testEngine(t, store), tc.extractor, testMaxUpload)
			recorder := httptest.NewRecorder()

			handler.Recognize(recorder, multipartRequest(t, "/api/v1/recognize", nil, tc.file))

			assertStatusCode(t, recorder, tc.expectedStatus)
			if tc.expectedStatus == http.StatusOK {
				var result map[string]any
				parseJSONResponse(t, recorder, &result)
				if result["matched"] != true || result["owner_id"] != "alice" {
					t.Errorf("expected match for alice, got %v", result)
				}
			}
		})
	}
}

func TestRecognize_NoExtractor(t *testing.T) {
	handler := NewRecognizeHandler(testEngine(t, mock.NewMockStore()), nil, testMaxUpload)
	recorder := httptest.NewRecorder()

	handler.Recognize(recorder, multipartRequest(t, "/api/v1/recognize", nil, []byte("jpeg")))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}

func TestRecognize_NotMultipart(t *testing.T) {
	handler := NewRecognizeHandler(testEngine(t, mock.NewMockStore()), &stubExtractor{}, testMaxUpload)
	recorder := httptest.NewRecorder()

	handler.Recognize(recorder, jsonRequest(t, "POST", "/api/v1/recognize", map[string]any{}))

	assertStatusCode(t, recorder, http.StatusBadRequest)
}
