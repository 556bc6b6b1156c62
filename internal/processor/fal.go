package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"server/internal/domain"
)

// FALOptions configures a dispatcher for one FAL queue application.
type FALOptions struct {
	// BaseURL defaults to the public queue endpoint.
	BaseURL string
	// App is the application path, e.g. "workflows/acme/photo-to-video".
	App string
	// Key is the FAL API credential.
	Key string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// FAL dispatches jobs to a FAL queue application. Completion arrives via
// the fal_webhook callback; the queue status endpoint backs the polling
// path.
type FAL struct {
	baseURL string
	app     string
	key     string
	http    *http.Client
}

// NewFAL creates a FAL queue dispatcher.
func NewFAL(opts FALOptions) *FAL {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = "https://queue.fal.run"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FAL{baseURL: base, app: strings.Trim(opts.App, "/"), key: opts.Key, http: client}
}

var _ Dispatcher = (*FAL)(nil)

type falDispatchRequest struct {
	SourceAssetKey string          `json:"source_asset_key"`
	Parameters     json.RawMessage `json:"parameters"`
}

type falQueueResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	ResultKey string `json:"result_key"`
}

// Dispatch submits the job to the queue with the callback registered as a
// webhook and returns the queue request id.
func (f *FAL) Dispatch(ctx context.Context, job *domain.Job, callbackURL string) (string, error) {
	body, err := json.Marshal(falDispatchRequest{
		SourceAssetKey: job.SourceAssetKey,
		Parameters:     json.RawMessage(job.ParamsJSON),
	})
	if err != nil {
		return "", fmt.Errorf("fal: marshal request: %w", err)
	}
	endpoint := f.baseURL + "/" + f.app + "?fal_webhook=" + url.QueryEscape(callbackURL)
	var resp falQueueResponse
	if err := f.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.RequestID == "" {
		return "", fmt.Errorf("fal: queue accepted without a request id")
	}
	return resp.RequestID, nil
}

// Poll maps the queue status of a request onto a lifecycle event. Requests
// still waiting in the queue produce no event.
func (f *FAL) Poll(ctx context.Context, ref string) (*Event, error) {
	statusURL := fmt.Sprintf("%s/%s/requests/%s/status", f.baseURL, f.app, url.PathEscape(ref))
	var status falQueueResponse
	if err := f.do(ctx, http.MethodGet, statusURL, nil, &status); err != nil {
		return nil, err
	}
	switch status.Status {
	case "IN_QUEUE":
		return nil, nil
	case "IN_PROGRESS":
		return &Event{Outcome: OutcomeStarted}, nil
	case "COMPLETED":
		resultURL := fmt.Sprintf("%s/%s/requests/%s", f.baseURL, f.app, url.PathEscape(ref))
		var result falQueueResponse
		if err := f.do(ctx, http.MethodGet, resultURL, nil, &result); err != nil {
			return nil, err
		}
		if result.Error != "" {
			return &Event{Outcome: OutcomeFailed, Reason: result.Error}, nil
		}
		return &Event{Outcome: OutcomeSucceeded, ResultKey: result.ResultKey}, nil
	default:
		return nil, fmt.Errorf("fal: unexpected queue status %q", status.Status)
	}
}

func (f *FAL) do(ctx context.Context, method, endpoint string, body io.Reader, out *falQueueResponse) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("fal: build request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+f.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("fal: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fal: %s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fal: decode response: %w", err)
	}
	return nil
}
