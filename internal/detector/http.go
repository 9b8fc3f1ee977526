package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPConfig controls the inference sidecar client.
type HTTPConfig struct {
	Endpoint      string
	Model         string
	Timeout       time.Duration
	MinConfidence float64
}

// HTTPDetector calls a detection sidecar that accepts an image upload and
// returns JSON detections.
type HTTPDetector struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTP creates an HTTPDetector for the configured endpoint.
func NewHTTP(cfg HTTPConfig) (*HTTPDetector, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("detector endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPDetector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type sidecarResponse struct {
	Detections []Detection `json:"detections"`
}

// Detect uploads the image and decodes the sidecar's detections.
func (d *HTTPDetector) Detect(ctx context.Context, imagePath string) ([]Detection, error) {
	body, contentType, err := d.buildRequestBody(imagePath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call detector: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned status %d", resp.StatusCode)
	}

	var decoded sidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}
	return d.filter(decoded.Detections), nil
}

func (d *HTTPDetector) buildRequestBody(imagePath string) (*bytes.Buffer, string, error) {
	img, err := os.Open(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("open image %s: %w", imagePath, err)
	}
	defer func() { _ = img.Close() }()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if d.cfg.Model != "" {
		if err := writer.WriteField("model", d.cfg.Model); err != nil {
			return nil, "", fmt.Errorf("write model field: %w", err)
		}
	}
	part, err := writer.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, img); err != nil {
		return nil, "", fmt.Errorf("copy image body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func (d *HTTPDetector) filter(dets []Detection) []Detection {
	if d.cfg.MinConfidence <= 0 {
		return dets
	}
	kept := dets[:0]
	for _, det := range dets {
		if det.Confidence >= d.cfg.MinConfidence {
			kept = append(kept, det)
		}
	}
	return kept
}
