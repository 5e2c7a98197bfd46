package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrBackendUnavailable is returned by RemoteEmbedder when the embedding
// backend cannot be reached, times out, or answers with a non-2xx status.
// Callers surface it distinctly from "no results".
var ErrBackendUnavailable = errors.New("embedding backend unavailable")

// RemoteEmbedder calls an external embedding HTTP endpoint. The wire contract
// is a minimal JSON POST:
//
//	request:  {"input": "<text>"}
//	response: {"embedding": [..floats..]}
//
// The exact model and dimensionality are the backend's choice; Dim reports
// the configured expectation and responses of a different length are
// rejected. Timeouts are enforced here (transport-owned deadline) and every
// failure mode maps to ErrBackendUnavailable.
type RemoteEmbedder struct {
	endpoint string
	token    string
	dim      int
	client   *http.Client
}

// NewRemoteEmbedder builds a RemoteEmbedder for endpoint with the given
// bearer token (may be empty), expected dimensionality, and request timeout.
func NewRemoteEmbedder(endpoint, token string, dim int, timeout time.Duration) *RemoteEmbedder {
	if dim <= 0 {
		dim = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteEmbedder{
		endpoint: endpoint,
		token:    token,
		dim:      dim,
		client:   &http.Client{Timeout: timeout},
	}
}

// Dim returns the expected vector dimensionality.
func (e *RemoteEmbedder) Dim() int { return e.dim }

// Embed posts text to the backend and returns its vector.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(struct {
		Input string `json:"input"`
	}{Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(out.Embedding) != e.dim {
		return nil, fmt.Errorf("%w: got %d dims, want %d", ErrBackendUnavailable, len(out.Embedding), e.dim)
	}
	return out.Embedding, nil
}
