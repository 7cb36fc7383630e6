package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type ReplicateProvider struct {
	BaseURL string
	Token   string
	Model   string
	Client  *http.Client
}

func NewReplicateProvider(baseURL, token, model string) *ReplicateProvider {
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	return &ReplicateProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Model:   model,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type replicateCreateReq struct {
	Version             string         `json:"version,omitempty"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type replicatePrediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  any    `json:"error,omitempty"`
}

// CreateJob starts a prediction. "owner/name" targets the model's latest
// version, "owner/name:version" pins a version.
func (p *ReplicateProvider) CreateJob(ctx context.Context, req JobRequest) (Job, error) {
	if p.Client == nil {
		return Job{}, errors.New("replicate: http client is nil")
	}
	if strings.TrimSpace(p.Token) == "" {
		return Job{}, ErrNoToken
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return Job{}, ErrNoModel
	}

	body := replicateCreateReq{Input: req.Input}
	if req.WebhookURL != "" {
		body.Webhook = req.WebhookURL
		body.WebhookEventsFilter = req.WebhookEvents
		if len(body.WebhookEventsFilter) == 0 {
			body.WebhookEventsFilter = []string{WebhookEventCompleted}
		}
	}

	var endpoint string
	if _, version, pinned := strings.Cut(model, ":"); pinned {
		body.Version = version
		endpoint = p.BaseURL + "/predictions"
	} else {
		owner, modelName, ok := strings.Cut(model, "/")
		if !ok || owner == "" || modelName == "" {
			return Job{}, fmt.Errorf("replicate: invalid model %q", model)
		}
		endpoint = fmt.Sprintf("%s/models/%s/%s/predictions", p.BaseURL, url.PathEscape(owner), url.PathEscape(modelName))
	}

	b, err := json.Marshal(body)
	if err != nil {
		return Job{}, err
	}

	var decoded replicatePrediction
	if err := p.do(ctx, endpoint, b, &decoded); err != nil {
		return Job{}, err
	}
	if decoded.ID == "" {
		return Job{}, errors.New("replicate: response missing prediction id")
	}
	return Job{ID: decoded.ID, Status: decoded.Status}, nil
}

func (p *ReplicateProvider) CancelJob(ctx context.Context, jobID string) error {
	if p.Client == nil {
		return errors.New("replicate: http client is nil")
	}
	if strings.TrimSpace(p.Token) == "" {
		return ErrNoToken
	}
	endpoint := fmt.Sprintf("%s/predictions/%s/cancel", p.BaseURL, url.PathEscape(jobID))
	return p.do(ctx, endpoint, nil, nil)
}

func (p *ReplicateProvider) do(ctx context.Context, endpoint string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.Token)

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("replicate: %s", msg)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
