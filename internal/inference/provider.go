package inference

import (
	"context"
	"errors"
)

// WebhookEventCompleted asks the provider to call back once, on any terminal outcome.
const WebhookEventCompleted = "completed"

var (
	ErrNoToken = errors.New("inference: api token is required")
	ErrNoModel = errors.New("inference: model is required")
)

type JobRequest struct {
	Input         map[string]any
	WebhookURL    string
	WebhookEvents []string
}

type Job struct {
	ID     string
	Status string
}

// Provider runs long image jobs asynchronously and reports completion by webhook.
type Provider interface {
	CreateJob(ctx context.Context, req JobRequest) (Job, error)
	CancelJob(ctx context.Context, jobID string) error
}
