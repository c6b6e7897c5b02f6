// Package biometric talks to the face embedding server.
package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/kozaktomas/rh360-attendance/internal/constants"
	"github.com/kozaktomas/rh360-attendance/internal/facematch"
)

const (
	defaultEmbeddingURL   = "http://localhost:8000"
	defaultEmbeddingModel = "buffalo_l" // stored with enrolled faces for reference
	defaultEmbeddingDim   = 512
)

// EmbeddingClient computes face embeddings using the embedding server
type EmbeddingClient struct {
	baseURL string
	model   string
	dim     int
	maxSize int
	client  *http.Client
}

// NewEmbeddingClient creates a new embedding client
func NewEmbeddingClient(baseURL, model string, dim int) *EmbeddingClient {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if model == "" {
		model = defaultEmbeddingModel
	}
	if dim <= 0 {
		dim = defaultEmbeddingDim
	}
	return &EmbeddingClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		dim:     dim,
		maxSize: constants.MaxImageSize,
		client:  &http.Client{},
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

// Best returns the face with the highest detection score, or nil.
func (r *FaceResponse) Best() *FaceDetection {
	var best *FaceDetection
	for i := range r.Faces {
		if len(r.Faces[i].Embedding) == 0 {
			continue
		}
		if best == nil || r.Faces[i].DetScore > best.DetScore {
			best = &r.Faces[i]
		}
	}
	return best
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
// The part carries a Content-Type header based on magic byte detection.
func (c *EmbeddingClient) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="face.jpg"`)
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
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}

// ComputeFaceEmbeddings detects faces and computes their embeddings.
// Large photos are downscaled to MaxImageSize and re-encoded as JPEG first.
func (c *EmbeddingClient) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	prepared, err := ResizeImage(imageData, c.maxSize)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", prepared)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &faceResp, nil
}

// ExtractEmbedding returns the embedding of the most confidently detected
// face. It returns facematch.ErrNoFace when the photo contains no face.
func (c *EmbeddingClient) ExtractEmbedding(ctx context.Context, photo []byte) ([]float32, error) {
	det, err := c.ExtractFace(ctx, photo)
	if err != nil {
		return nil, err
	}
	return det.Embedding, nil
}

// ExtractFace is ExtractEmbedding returning the whole detection.
func (c *EmbeddingClient) ExtractFace(ctx context.Context, photo []byte) (*FaceDetection, error) {
	resp, err := c.ComputeFaceEmbeddings(ctx, photo)
	if err != nil {
		return nil, err
	}
	best := resp.Best()
	if best == nil {
		return nil, facematch.ErrNoFace
	}
	if len(best.Embedding) != c.dim {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(best.Embedding), c.dim)
	}
	return best, nil
}

// Health checks that the embedding server answers.
func (c *EmbeddingClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New("embedding server unhealthy: " + resp.Status)
	}
	return nil
}

// Model returns the model name being used
func (c *EmbeddingClient) Model() string {
	return c.model
}

// Dim returns the expected embedding dimension
func (c *EmbeddingClient) Dim() int {
	return c.dim
}
