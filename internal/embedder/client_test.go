package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// testPNG creates a small PNG image
func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// setupSidecar creates a mock embedding server returning the given faces
func setupSidecar(t *testing.T, status int, resp FaceResponse) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/face", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if len(data) == 0 {
			t.Error("expected non-empty upload")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func face(embedding ...float32) FaceDetection {
	return FaceDetection{Dim: len(embedding), Embedding: embedding, BBox: []float64{1, 2, 3, 4}, DetScore: 0.91}
}

func TestExtract_SingleFace(t *testing.T) {
	server := setupSidecar(t, http.StatusOK, FaceResponse{
		FacesCount: 1,
		Faces:      []FaceDetection{face(3, 4, 0)},
		Model:      "buffalo_l",
	})
	defer server.Close()

	client := NewClient(server.URL, "")
	got, err := client.Extract(context.Background(), testPNG(t, 32, 32))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !facematch.IsUnit(got.Vector, facematch.DefaultNormTolerance) {
		t.Errorf("expected unit vector, got norm %f", facematch.Norm(got.Vector))
	}
	if math.Abs(float64(got.Vector[0])-0.6) > 1e-6 || math.Abs(float64(got.Vector[1])-0.8) > 1e-6 {
		t.Errorf("unexpected normalized vector %v", got.Vector)
	}
	if got.DetectionConfidence != 0.91 {
		t.Errorf("expected confidence 0.91, got %f", got.DetectionConfidence)
	}
	if got.Model != "buffalo_l" {
		t.Errorf("expected model buffalo_l, got %s", got.Model)
	}
}

func TestExtract_FaceCountErrors(t *testing.T) {
	tests := []struct {
		name    string
		faces   []FaceDetection
		wantErr error
	}{
		{"no face", nil, ErrNoFaceFound},
		{"two faces", []FaceDetection{face(1, 0), face(0, 1)}, ErrAmbiguousInput},
		{"zero vector", []FaceDetection{face(0, 0)}, ErrUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := setupSidecar(t, http.StatusOK, FaceResponse{FacesCount: len(tc.faces), Faces: tc.faces})
			defer server.Close()

			_, err := NewClient(server.URL, "").Extract(context.Background(), testPNG(t, 8, 8))
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestExtract_InvalidImage(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").Extract(context.Background(), []byte("definitely not an image"))
	if !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage, got %v", err)
	}
	if called {
		t.Error("sidecar should not be called for invalid images")
	}
}

func TestExtract_SidecarErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad request", http.StatusBadRequest, ErrInvalidImage},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := setupSidecar(t, tc.status, FaceResponse{})
			defer server.Close()

			_, err := NewClient(server.URL, "").Extract(context.Background(), testPNG(t, 8, 8))
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestExtract_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, "").Extract(context.Background(), testPNG(t, 8, 8))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	server := setupSidecar(t, http.StatusOK, FaceResponse{})
	defer server.Close()

	if err := NewClient(server.URL+"/", "").Health(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
