package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aura-api/internal/common"
	"github.com/suPer8Hu/aura-api/internal/generation"
)

const webhookSecretHeader = "X-Webhook-Secret"

type predictionWebhook struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output"`
	Error   json.RawMessage `json:"error"`
	Metrics struct {
		PredictTime *float64 `json:"predict_time"`
	} `json:"metrics"`
}

// ReplicateWebhook reconciles a prediction callback. Unknown or already
// finished jobs are acknowledged so the provider stops redelivering.
func (h *Handler) ReplicateWebhook(c *gin.Context) {
	secret := c.GetHeader(webhookSecretHeader)
	if err := h.Reconciler.Authenticate(secret); err != nil {
		writeError(c, err)
		return
	}

	var body predictionWebhook
	if err := c.ShouldBindJSON(&body); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.Reconciler.Reconcile(c.Request.Context(), secret, generation.WebhookEvent{
		ProviderJobID: body.ID,
		GenerationID:  c.Query("generation_id"),
		Status:        body.Status,
		Error:         errorText(body.Error),
		PredictTime:   body.Metrics.PredictTime,
		Outputs:       outputList(body.Output),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"received": true, "updated": res.Updated})
}

// outputList accepts a single URL or a list of URLs.
func outputList(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

// errorText flattens the provider error, which may be a string or an object.
func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
