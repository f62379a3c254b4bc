package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/banshee-data/speedcam/internal/frame"
	"github.com/banshee-data/speedcam/internal/httputil"
)

// HTTPClassifier posts a JPEG crop to an inference endpoint that answers
// {"predictions":[{"label":"car","confidence":0.91}, ...]}.
type HTTPClassifier struct {
	URL     string
	Client  httputil.HTTPClient
	Quality int
}

// NewHTTPClassifier returns a classifier for url using client (or the
// default client when nil).
func NewHTTPClassifier(url string, client httputil.HTTPClient) *HTTPClassifier {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPClassifier{URL: url, Client: client, Quality: 85}
}

type predictionResponse struct {
	Predictions []Candidate `json:"predictions"`
}

// Classify implements Classifier.
func (c *HTTPClassifier) Classify(ctx context.Context, img frame.Frame) ([]Candidate, error) {
	body, err := img.EncodeJPEG(c.Quality)
	if err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out predictionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}
	return out.Predictions, nil
}
