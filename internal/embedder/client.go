package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/facematch"
)

const (
	defaultEmbeddingURL   = "http://localhost:8000"
	defaultEmbeddingModel = "buffalo_l" // model name for reference only

	// maxImageSize is the largest width or height sent to the sidecar
	maxImageSize = 1920
)

// Client computes face embeddings using the embedding server
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ Extractor = (*Client)(nil)

// NewClient creates a new embedding client
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: constants.EmbedderTimeout},
	}
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: sidecar rejected image: %s", ErrInvalidImage, string(body))
	default:
		return nil, fmt.Errorf("%w: API error (status %d): %s", ErrUnavailable, resp.StatusCode, string(body))
	}
}

// ComputeFaceEmbeddings detects faces and computes their embeddings
func (c *Client) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, constants.EmbedFacePath, imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrUnavailable, err)
	}

	return &faceResp, nil
}

// Extract validates the image, sends it to the sidecar and returns the only face in it.
func (c *Client) Extract(ctx context.Context, imageData []byte) (*Extraction, error) {
	info, err := ValidateImage(imageData)
	if err != nil {
		return nil, err
	}
	prepared, err := PrepareImage(imageData, info, maxImageSize)
	if err != nil {
		return nil, err
	}

	resp, err := c.ComputeFaceEmbeddings(ctx, prepared)
	if err != nil {
		return nil, err
	}

	switch len(resp.Faces) {
	case 0:
		return nil, ErrNoFaceFound
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d faces", ErrAmbiguousInput, len(resp.Faces))
	}

	face := resp.Faces[0]
	vec, err := facematch.NormalizeFloat32(face.Embedding)
	if err != nil {
		return nil, fmt.Errorf("%w: sidecar returned unusable embedding: %v", ErrUnavailable, err)
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &Extraction{
		Vector:              vec,
		DetectionConfidence: face.DetScore,
		BBox:                face.BBox,
		Model:               model,
	}, nil
}

// Model returns the model name being used
func (c *Client) Model() string {
	return c.model
}

// Health checks the sidecar responds.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
