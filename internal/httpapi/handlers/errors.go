package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aura-api/internal/common"
	"github.com/suPer8Hu/aura-api/internal/generation"
)

const paywallURL = "aura://paywall"

type errMapping struct {
	target error
	status int
	code   int
	reason string
}

var errMappings = []errMapping{
	{generation.ErrValidation, http.StatusBadRequest, 40001, generation.CodeValidation},
	{generation.ErrInvalidPreset, http.StatusBadRequest, 40002, generation.CodeValidation},
	{generation.ErrContentPolicy, http.StatusBadRequest, 40003, generation.CodeContentModeration},
	{generation.ErrUnauthorizedWebhook, http.StatusUnauthorized, 40103, generation.CodeUnauthorized},
	{generation.ErrSubscriptionRequired, http.StatusPaymentRequired, 40201, generation.CodeSubscriptionRequired},
	{generation.ErrForbidden, http.StatusForbidden, 40301, generation.CodeForbidden},
	{generation.ErrNotFound, http.StatusNotFound, 40401, generation.CodeNotFound},
	{generation.ErrQuotaExceeded, http.StatusTooManyRequests, 42901, generation.CodeRateLimitExceeded},
	{generation.ErrSubmissionFailed, http.StatusServiceUnavailable, 50301, generation.CodeGenerationFailed},
}

// writeError maps core errors onto the envelope; anything unknown is a 500.
func writeError(c *gin.Context, err error) {
	writeErrorWithData(c, err, nil)
}

func writeErrorWithData(c *gin.Context, err error, extra gin.H) {
	for _, m := range errMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.target.Error()
		reason := m.reason
		var re *generation.RejectError
		if errors.As(err, &re) {
			if re.Reason != "" {
				msg = re.Reason
			}
			if re.Code != "" {
				reason = re.Code
			}
		}
		data := gin.H{"reason": reason}
		if m.target == generation.ErrQuotaExceeded || m.target == generation.ErrSubscriptionRequired {
			data["upgrade_url"] = paywallURL
		}
		for k, v := range extra {
			data[k] = v
		}
		common.FailWithData(c, m.status, m.code, msg, data)
		return
	}

	log.Printf("[HTTP] internal error path=%s err=%v", c.FullPath(), err)
	common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
}
