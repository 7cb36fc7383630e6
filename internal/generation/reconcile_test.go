package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]Status{
		"succeeded":  StatusSucceeded,
		"failed":     StatusFailed,
		"canceled":   StatusCanceled,
		"cancelled":  StatusCanceled,
		" Canceled ": StatusCanceled,
		"processing": StatusProcessing,
		"starting":   StatusProcessing,
		"queued":     StatusProcessing,
		"":           StatusProcessing,
	}
	for in, want := range cases {
		if got := MapStatus(in); got != want {
			t.Errorf("MapStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestReconcile_SucceededMaterializesOutputs(t *testing.T) {
	env := newTestEnv(t, "")
	sub := env.submit(t, "user-1")
	predict := 12.5

	res, err := env.rec.Reconcile(context.Background(), "", WebhookEvent{
		ProviderJobID: sub.ProviderJobID,
		Status:        "succeeded",
		PredictTime:   &predict,
		Outputs:       []string{env.outputURL(0), env.outputURL(1)},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.Updated || res.GenerationID != sub.GenerationID || res.UserID != "user-1" || res.Status != StatusSucceeded {
		t.Fatalf("unexpected result %+v", res)
	}

	g := env.generation(t, sub.GenerationID)
	if g.Status != StatusSucceeded || g.CompletedAt == nil {
		t.Fatalf("unexpected generation %+v", g)
	}
	if g.ProcessingTimeSeconds == nil || *g.ProcessingTimeSeconds != predict {
		t.Fatalf("processing time not recorded: %v", g.ProcessingTimeSeconds)
	}
	if g.ProviderJobID == nil || *g.ProviderJobID != sub.ProviderJobID {
		t.Fatalf("provider job id changed: %v", g.ProviderJobID)
	}
	if n := env.countRows(t, &Asset{}); n != 2 {
		t.Fatalf("expected 2 assets, got %d", n)
	}
}

func TestReconcile_DuplicateDeliveryIsNoop(t *testing.T) {
	env := newTestEnv(t, "")
	sub := env.submit(t, "user-1")
	ev := WebhookEvent{
		ProviderJobID: sub.ProviderJobID,
		Status:        "succeeded",
		Outputs:       []string{env.outputURL(0)},
	}

	if _, err := env.rec.Reconcile(context.Background(), "", ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	first := env.generation(t, sub.GenerationID)

	res, err := env.rec.Reconcile(context.Background(), "", ev)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if res.Updated {
		t.Fatalf("duplicate delivery must not update")
	}
	if n := env.countRows(t, &Asset{}); n != 1 {
		t.Fatalf("expected 1 asset after redelivery, got %d", n)
	}
	second := env.generation(t, sub.GenerationID)
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("completed_at moved on redelivery")
	}
}

func TestReconcile_TerminalStatesAreFinal(t *testing.T) {
	env := newTestEnv(t, "")
	sub := env.submit(t, "user-1")

	if _, err := env.rec.Reconcile(context.Background(), "", WebhookEvent{
		ProviderJobID: sub.ProviderJobID, Status: "failed", Error: "NSFW content detected",
	}); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	for _, st := range []string{"succeeded", "processing", "canceled"} {
		res, err := env.rec.Reconcile(context.Background(), "", WebhookEvent{
			ProviderJobID: sub.ProviderJobID, Status: st, Outputs: []string{env.outputURL(0)},
		})
		if err != nil {
			t.Fatalf("reconcile %s: %v", st, err)
		}
		if res.Updated {
			t.Fatalf("%s overwrote a terminal generation", st)
		}
	}

	g := env.generation(t, sub.GenerationID)
	if g.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", g.Status)
	}
	if g.ErrorCode == nil || *g.ErrorCode != ErrorCodePrediction {
		t.Fatalf("unexpected error code %v", g.ErrorCode)
	}
	if g.ErrorMessage == nil || *g.ErrorMessage != "NSFW content detected" {
		t.Fatalf("unexpected error message %v", g.ErrorMessage)
	}
	if n := env.countRows(t, &Asset{}); n != 0 {
		t.Fatalf("failed generation has %d assets", n)
	}
}

func TestReconcile_FailedWithoutMessage(t *testing.T) {
	env := newTestEnv(t, "")
	sub := env.submit(t, "user-1")

	if _, err := env.rec.Reconcile(context.Background(), "", WebhookEvent{
		ProviderJobID: sub.ProviderJobID, Status: "failed",
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	g := env.generation(t, sub.GenerationID)
	if g.ErrorMessage == nil || *g.ErrorMessage != "generation failed" {
		t.Fatalf("expected default message, got %v", g.ErrorMessage)
	}
}

func TestReconcile_IntermediateStatusKeepsProcessing(t *testing.T) {
	env := newTestEnv(t, "")
	sub := env.submit(t, "user-1")

	res, err := env.rec.Reconcile(context.Background(), "", WebhookEvent{
		ProviderJobID: sub.ProviderJobID, Status: "processing",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.Updated {
		t.Fatalf("expected intermediate update to apply")
	}
	g := env.generation(t, sub.GenerationID)
	if g.Status != StatusProcessing || g.CompletedAt != nil {
		t.Fatalf("unexpected generation %+v", g)
	}
}

func TestReconcile_UnknownJobIsNoop(t *testing.T) {
	env := newTestEnv(t, "")
	env.submit(t, "user-1")

	res, err := env.rec.Reconcile(context.Background(), "", WebhookEvent{
		ProviderJobID: "pred_unknown", Status: "succeeded", Outputs: []string{env.outputURL(0)},
	})
	if err != nil {
		t.Fatalf("unknown job must be acknowledged, got %v", err)
	}
	if res.Updated {
		t.Fatalf("unknown job must not update anything")
	}
	if n := env.countRows(t, &Asset{}); n != 0 {
		t.Fatalf("unexpected assets: %d", n)
	}
}

func TestReconcile_MissingFields(t *testing.T) {
	env := newTestEnv(t, "")
	for _, ev := range []WebhookEvent{
		{Status: "succeeded"},
		{ProviderJobID: "pred_1"},
	} {
		_, err := env.rec.Reconcile(context.Background(), "", ev)
		assertReject(t, err, ErrValidation, CodeValidation)
	}
}

func TestReconcile_SecretAuthentication(t *testing.T) {
	env := newTestEnv(t, "hook-secret")
	sub := env.submit(t, "user-1")
	ev := WebhookEvent{ProviderJobID: sub.ProviderJobID, Status: "succeeded"}

	for _, secret := range []string{"", "wrong", "hook-secret "} {
		if _, err := env.rec.Reconcile(context.Background(), secret, ev); !errors.Is(err, ErrUnauthorizedWebhook) {
			t.Fatalf("secret %q: expected ErrUnauthorizedWebhook, got %v", secret, err)
		}
	}
	if g := env.generation(t, sub.GenerationID); g.Status != StatusProcessing {
		t.Fatalf("rejected webhook changed state to %s", g.Status)
	}

	res, err := env.rec.Reconcile(context.Background(), "hook-secret", ev)
	if err != nil || !res.Updated {
		t.Fatalf("expected authenticated update, got %+v err=%v", res, err)
	}
}

func TestReconcile_EarlyCallbackUsesGenerationHint(t *testing.T) {
	env := newTestEnv(t, "")

	// the completion callback lands before the submission records the job id
	env.provider.onCreate = func(jobID string) {
		var g Generation
		if err := env.db.Where("user_id = ?", "user-1").First(&g).Error; err != nil {
			t.Errorf("load row: %v", err)
			return
		}
		res, err := env.rec.Reconcile(context.Background(), "", WebhookEvent{
			ProviderJobID: jobID,
			GenerationID:  g.ID,
			Status:        "succeeded",
			Outputs:       []string{env.outputURL(0)},
		})
		if err != nil || !res.Updated {
			t.Errorf("early callback: res=%+v err=%v", res, err)
		}
	}

	sub := env.submit(t, "user-1")
	if sub.Status != StatusSucceeded {
		t.Fatalf("expected submit to report succeeded, got %s", sub.Status)
	}
	g := env.generation(t, sub.GenerationID)
	if g.Status != StatusSucceeded {
		t.Fatalf("submission bookkeeping overwrote the callback: %s", g.Status)
	}
	if g.ProviderJobID == nil || *g.ProviderJobID != sub.ProviderJobID {
		t.Fatalf("job id not recorded: %v", g.ProviderJobID)
	}
	if n := env.countRows(t, &Asset{}); n != 1 {
		t.Fatalf("expected 1 asset, got %d", n)
	}
	if len(env.provider.canceled) != 0 {
		t.Fatalf("succeeded job must not be canceled upstream")
	}
}

func TestReconcile_HintDoesNotStealAnotherJob(t *testing.T) {
	env := newTestEnv(t, "")
	a := env.submit(t, "user-1")
	b := env.submit(t, "user-1")

	res, err := env.rec.Reconcile(context.Background(), "", WebhookEvent{
		ProviderJobID: a.ProviderJobID, GenerationID: b.GenerationID, Status: "failed",
	})
	if err != nil || !res.Updated {
		t.Fatalf("reconcile: res=%+v err=%v", res, err)
	}
	if res.GenerationID != a.GenerationID {
		t.Fatalf("updated %s, want %s", res.GenerationID, a.GenerationID)
	}
	if g := env.generation(t, b.GenerationID); g.Status != StatusProcessing || *g.ProviderJobID != b.ProviderJobID {
		t.Fatalf("hinted generation was modified: %+v", g)
	}
}

func TestReconcile_ConcurrentOutcomesHaveOneWinner(t *testing.T) {
	env := newTestEnv(t, "")
	sub := env.submit(t, "user-1")

	statuses := []string{"succeeded", "failed", "canceled", "succeeded", "failed", "canceled"}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []Status
	)
	for _, st := range statuses {
		wg.Add(1)
		go func(st string) {
			defer wg.Done()
			res, err := env.rec.Reconcile(context.Background(), "", WebhookEvent{
				ProviderJobID: sub.ProviderJobID, Status: st, Outputs: []string{env.outputURL(0)},
			})
			if err != nil {
				t.Errorf("reconcile %s: %v", st, err)
				return
			}
			if res.Updated {
				mu.Lock()
				winners = append(winners, res.Status)
				mu.Unlock()
			}
		}(st)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}
	g := env.generation(t, sub.GenerationID)
	if g.Status != winners[0] {
		t.Fatalf("stored %s but winner was %s", g.Status, winners[0])
	}
	wantAssets := int64(0)
	if winners[0] == StatusSucceeded {
		wantAssets = 1
	}
	if n := env.countRows(t, &Asset{}); n != wantAssets {
		t.Fatalf("expected %d assets, got %d", wantAssets, n)
	}
}

type failingQueue struct{ calls int }

func (q *failingQueue) PublishMaterialize(ctx context.Context, task MaterializeTask) error {
	q.calls++
	return errors.New("broker down")
}

func TestQueueDispatcher_FallsBackInline(t *testing.T) {
	env := newTestEnv(t, "")
	q := &failingQueue{}
	env.rec.dispatcher = QueueDispatcher{Queue: q, Fallback: InlineDispatcher{M: env.mat}}
	sub := env.submit(t, "user-1")

	if _, err := env.rec.Reconcile(context.Background(), "", WebhookEvent{
		ProviderJobID: sub.ProviderJobID, Status: "succeeded", Outputs: []string{env.outputURL(0)},
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if q.calls != 1 {
		t.Fatalf("expected one publish attempt, got %d", q.calls)
	}
	if n := env.countRows(t, &Asset{}); n != 1 {
		t.Fatalf("fallback did not materialize: %d assets", n)
	}
}
