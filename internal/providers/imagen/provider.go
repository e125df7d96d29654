package imagen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/listinglens/listinglens/internal/generation/dispatch"
)

// Provider is the outbound image enhancement queue. It satisfies
// dispatch.Client so the dispatcher can drive any implementation.
type Provider interface {
	dispatch.Client
}

// Config for the queue API connection.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// queueProvider talks to a fal-style async queue: submit returns a request
// id immediately, status and result are polled separately.
type queueProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.Logger
}

func NewProvider(cfg Config, log *zap.Logger) Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &queueProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log.Named("imagen"),
	}
}

// modelPaths maps an enhancement tool to its queue endpoint.
var modelPaths = map[string]string{
	"declutter":       "listinglens/declutter",
	"virtual_staging": "listinglens/virtual-staging",
	"sky_replacement": "listinglens/sky-replacement",
	"relight":         "listinglens/relight",
	"upscale":         "listinglens/upscale",
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type resultResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

func (p *queueProvider) Submit(ctx context.Context, req dispatch.SubmitRequest) (string, error) {
	path, ok := modelPaths[req.Tool]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", req.Tool)
	}

	payload := map[string]any{
		"image_url": req.SourceImageURL,
	}
	if req.Prompt != "" {
		payload["prompt"] = req.Prompt
	}
	for k, v := range req.Params {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	var out submitResponse
	if err := p.do(ctx, http.MethodPost, p.baseURL+"/"+path, body, &out); err != nil {
		return "", err
	}
	if out.RequestID == "" {
		return "", fmt.Errorf("queue returned no request id")
	}
	return out.RequestID, nil
}

func (p *queueProvider) Status(ctx context.Context, requestID string) (dispatch.JobStatus, error) {
	var out statusResponse
	url := fmt.Sprintf("%s/requests/%s/status", p.baseURL, requestID)
	if err := p.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return dispatch.StatusUnknown, err
	}

	switch out.Status {
	case "IN_QUEUE":
		return dispatch.StatusQueued, nil
	case "IN_PROGRESS":
		return dispatch.StatusInProgress, nil
	case "COMPLETED":
		return dispatch.StatusCompleted, nil
	case "FAILED", "ERROR":
		return dispatch.StatusFailed, nil
	default:
		p.log.Warn("unrecognized queue status",
			zap.String("request_id", requestID),
			zap.String("status", out.Status),
		)
		return dispatch.StatusUnknown, nil
	}
}

func (p *queueProvider) Result(ctx context.Context, requestID string) (*dispatch.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/requests/%s", p.baseURL, requestID), nil)
	if err != nil {
		return nil, err
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("queue result: status %d", resp.StatusCode)
	}

	var out resultResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("queue result: %w", err)
	}
	if len(out.Images) == 0 || out.Images[0].URL == "" {
		return nil, fmt.Errorf("queue result: no image returned")
	}

	return &dispatch.Result{
		RequestID: requestID,
		ImageURL:  out.Images[0].URL,
		Raw:       raw,
	}, nil
}

func (p *queueProvider) do(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("queue %s %s: status %d", method, url, resp.StatusCode)
	}
	return json.Unmarshal(raw, out)
}

func (p *queueProvider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Key "+p.apiKey)
	}
}

// NoOpProvider completes every request immediately. Used when no queue API
// key is configured, for local development.
type NoOpProvider struct {
	log *zap.Logger
	seq int
}

func NewNoOpProvider(log *zap.Logger) *NoOpProvider {
	return &NoOpProvider{log: log.Named("imagen.noop")}
}

func (p *NoOpProvider) Submit(_ context.Context, req dispatch.SubmitRequest) (string, error) {
	p.seq++
	id := fmt.Sprintf("noop_%d", p.seq)
	p.log.Info("image generation skipped, no queue configured",
		zap.String("tool", req.Tool),
		zap.String("request_id", id),
	)
	return id, nil
}

func (p *NoOpProvider) Status(_ context.Context, _ string) (dispatch.JobStatus, error) {
	return dispatch.StatusCompleted, nil
}

func (p *NoOpProvider) Result(_ context.Context, requestID string) (*dispatch.Result, error) {
	return &dispatch.Result{RequestID: requestID, ImageURL: ""}, nil
}
