package generation

import (
	"context"
	"crypto/subtle"
	"log"
	"strings"
	"time"
)

// MaterializeTask is handed off exactly once per succeeded generation.
type MaterializeTask struct {
	GenerationID string   `json:"generation_id"`
	UserID       string   `json:"user_id"`
	Outputs      []string `json:"outputs"`
}

// Dispatcher delivers materialize tasks, inline or through a queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, task MaterializeTask) error
}

type InlineDispatcher struct {
	M *Materializer
}

func (d InlineDispatcher) Dispatch(ctx context.Context, task MaterializeTask) error {
	_, err := d.M.Materialize(ctx, task)
	return err
}

type TaskPublisher interface {
	PublishMaterialize(ctx context.Context, task MaterializeTask) error
}

// QueueDispatcher hands tasks to a broker and falls back to Fallback when publishing fails.
type QueueDispatcher struct {
	Queue    TaskPublisher
	Fallback Dispatcher
}

func (d QueueDispatcher) Dispatch(ctx context.Context, task MaterializeTask) error {
	err := d.Queue.PublishMaterialize(ctx, task)
	if err == nil {
		return nil
	}
	log.Printf("[Reconcile] publish failed generation_id=%s err=%v", task.GenerationID, err)
	if d.Fallback == nil {
		return err
	}
	return d.Fallback.Dispatch(ctx, task)
}

type WebhookEvent struct {
	ProviderJobID string
	// GenerationID comes from the callback URL we registered; optional.
	GenerationID string
	Status       string
	Error        string
	PredictTime  *float64
	Outputs      []string
}

type ReconcileResult struct {
	Updated      bool
	GenerationID string
	UserID       string
	Status       Status
}

type Reconciler struct {
	repo       *Repo
	secret     string
	dispatcher Dispatcher
	now        func() time.Time
}

// NewReconciler takes the configured webhook secret; empty disables authentication.
func NewReconciler(repo *Repo, secret string, dispatcher Dispatcher) *Reconciler {
	return &Reconciler{repo: repo, secret: secret, dispatcher: dispatcher, now: time.Now}
}

// MapStatus folds the provider vocabulary into ours. Anything that is not a
// known terminal value counts as still processing.
func MapStatus(providerStatus string) Status {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "succeeded":
		return StatusSucceeded
	case "failed":
		return StatusFailed
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		return StatusProcessing
	}
}

func (r *Reconciler) Authenticate(provided string) error {
	if r.secret == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(r.secret)) != 1 {
		return ErrUnauthorizedWebhook
	}
	return nil
}

// Reconcile applies one provider callback. Unknown job ids and generations
// that are already terminal are acknowledged as no-ops, which makes provider
// redelivery harmless.
func (r *Reconciler) Reconcile(ctx context.Context, providedSecret string, ev WebhookEvent) (ReconcileResult, error) {
	if err := r.Authenticate(providedSecret); err != nil {
		return ReconcileResult{}, err
	}
	if strings.TrimSpace(ev.ProviderJobID) == "" || strings.TrimSpace(ev.Status) == "" {
		return ReconcileResult{}, reject(ErrValidation, CodeValidation, "Missing id or status")
	}

	status := MapStatus(ev.Status)
	g, updated, err := r.repo.ApplyTransition(ctx, Transition{
		ProviderJobID: ev.ProviderJobID,
		GenerationID:  ev.GenerationID,
		Status:        status,
		ErrorMessage:  ev.Error,
		PredictTime:   ev.PredictTime,
		At:            r.now().UTC(),
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	if !updated {
		log.Printf("[Reconcile] no-op provider_job_id=%s status=%s", ev.ProviderJobID, ev.Status)
		return ReconcileResult{Updated: false}, nil
	}

	res := ReconcileResult{Updated: true, GenerationID: g.ID, UserID: g.UserID, Status: status}
	log.Printf("[Reconcile] applied generation_id=%s provider_job_id=%s status=%s", g.ID, ev.ProviderJobID, status)

	if status == StatusSucceeded && len(ev.Outputs) > 0 && r.dispatcher != nil {
		task := MaterializeTask{GenerationID: g.ID, UserID: g.UserID, Outputs: ev.Outputs}
		if err := r.dispatcher.Dispatch(ctx, task); err != nil {
			log.Printf("[Reconcile] materialize dispatch failed generation_id=%s err=%v", g.ID, err)
		}
	}
	return res, nil
}
