package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"server/internal/domain"
)

// ModalOptions configures a dispatcher for one Modal web endpoint.
type ModalOptions struct {
	// Endpoint is the full URL of the deployed function.
	Endpoint string
	// KeyID and KeySecret authenticate against the endpoint's proxy auth.
	KeyID     string
	KeySecret string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Modal dispatches jobs to a Modal Labs web endpoint. The endpoint accepts
// the request, spawns the GPU work and reports the outcome through the
// callback URL; Modal exposes no generic status API, so Poll is unsupported.
type Modal struct {
	endpoint  string
	keyID     string
	keySecret string
	http      *http.Client
}

// NewModal creates a Modal endpoint dispatcher.
func NewModal(opts ModalOptions) *Modal {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Modal{
		endpoint:  opts.Endpoint,
		keyID:     opts.KeyID,
		keySecret: opts.KeySecret,
		http:      client,
	}
}

var _ Dispatcher = (*Modal)(nil)

type modalDispatchRequest struct {
	VideoS3Key  string          `json:"video_s3_key"`
	Parameters  json.RawMessage `json:"parameters"`
	CallbackURL string          `json:"callback_url"`
}

type modalDispatchResponse struct {
	RequestID string `json:"request_id"`
}

// Dispatch submits the job to the endpoint. A 2xx response means the work
// was accepted; the ref is whatever handle the endpoint chose to return and
// may be empty.
func (m *Modal) Dispatch(ctx context.Context, job *domain.Job, callbackURL string) (string, error) {
	body, err := json.Marshal(modalDispatchRequest{
		VideoS3Key:  job.SourceAssetKey,
		Parameters:  json.RawMessage(job.ParamsJSON),
		CallbackURL: callbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("modal: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("modal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Modal-Key", m.keyID)
	req.Header.Set("Modal-Secret", m.keySecret)

	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("modal: POST %s: %w", m.endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("modal: %s returned %d: %s", m.endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var accepted modalDispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil && err != io.EOF {
		return "", fmt.Errorf("modal: decode response: %w", err)
	}
	return accepted.RequestID, nil
}

// Poll is not supported by Modal web endpoints.
func (m *Modal) Poll(context.Context, string) (*Event, error) {
	return nil, ErrPollNotSupported
}
