package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Options is the fixed configuration sent with every verification.
type Options struct {
	Model            string
	Detector         string
	Metric           string
	Align            bool
	EnforceDetection bool
}

// DefaultOptions is the Facenet512 / ssd / euclidean_l2 policy.
func DefaultOptions() Options {
	return Options{
		Model:            "Facenet512",
		Detector:         "ssd",
		Metric:           "euclidean_l2",
		Align:            true,
		EnforceDetection: true,
	}
}

// VerifyResult is the outcome of one pairwise verification.
type VerifyResult struct {
	Verified  bool    `json:"verified"`
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
	Model     string  `json:"model"`
}

// Client calls the face recognition service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

// Verify decides whether the images at refPath and capturePath show the same person.
func (c *Client) Verify(ctx context.Context, refPath, capturePath string, opts Options) (*VerifyResult, error) {
	if c.Skip {
		return &VerifyResult{Verified: true, Distance: 0.25, Threshold: 1.04, Model: opts.Model}, nil
	}

	img1, err := dataURI(refPath)
	if err != nil {
		return nil, err
	}
	img2, err := dataURI(capturePath)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"img1":              img1,
		"img2":              img2,
		"model_name":        opts.Model,
		"detector_backend":  opts.Detector,
		"distance_metric":   opts.Metric,
		"align":             opts.Align,
		"enforce_detection": opts.EnforceDetection,
	}

	var out VerifyResult
	if err := c.post(ctx, "/verify", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Represent returns the embedding of the first face found in the image at path.
// Detection uses the same backend and enforcement as Verify.
func (c *Client) Represent(ctx context.Context, path string, opts Options) ([]float32, error) {
	if c.Skip {
		return []float32{0.1, 0.2, 0.3}, nil
	}

	img, err := dataURI(path)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"img":               img,
		"model_name":        opts.Model,
		"detector_backend":  opts.Detector,
		"align":             opts.Align,
		"enforce_detection": opts.EnforceDetection,
	}

	var out struct {
		Results []struct {
			Embedding      []float32 `json:"embedding"`
			FaceConfidence float64   `json:"face_confidence"`
		} `json:"results"`
	}
	if err := c.post(ctx, "/represent", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 || len(out.Results[0].Embedding) == 0 {
		return nil, fmt.Errorf("no face detected in image")
	}
	return out.Results[0].Embedding, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, strings.TrimSpace(string(bodyBytes)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// dataURI reads a local image and encodes it the way the service accepts inline images.
func dataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
