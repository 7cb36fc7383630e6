package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aura-api/internal/common"
	"github.com/suPer8Hu/aura-api/internal/generation"
	"github.com/suPer8Hu/aura-api/internal/httpapi/middleware"
)

type submitReq struct {
	PresetID     string `json:"preset_id" binding:"required,uuid"`
	ImageURL     string `json:"image_url" binding:"required,url"`
	AspectRatio  string `json:"aspect_ratio" binding:"omitempty,oneof=1:1 4:5 16:9"`
	BatchSize    int    `json:"batch_size" binding:"omitempty,min=1,max=4"`
	CustomPrompt string `json:"custom_prompt" binding:"max=500"`
}

func (h *Handler) SubmitGeneration(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailWithData(c, http.StatusBadRequest, 10001, "invalid request body", gin.H{
			"reason": generation.CodeValidation,
			"detail": err.Error(),
		})
		return
	}

	res, err := h.GenSvc.Submit(c.Request.Context(), generation.SubmitRequest{
		UserID:       uid,
		PresetID:     req.PresetID,
		ImageURL:     req.ImageURL,
		AspectRatio:  req.AspectRatio,
		BatchSize:    req.BatchSize,
		CustomPrompt: req.CustomPrompt,
	})
	if err != nil {
		var extra gin.H
		if res != nil {
			extra = gin.H{"generation_id": res.GenerationID}
		}
		writeErrorWithData(c, err, extra)
		return
	}

	jobIDs := []string{}
	if res.ProviderJobID != "" {
		jobIDs = append(jobIDs, res.ProviderJobID)
	}
	common.Created(c, gin.H{
		"generation_id":          res.GenerationID,
		"status":                 res.Status,
		"provider_job_ids":       jobIDs,
		"estimated_time_seconds": res.EstimatedSeconds,
		"webhook_registered":     res.WebhookRegistered,
		"poll_url":               res.PollURL,
	})
}

func (h *Handler) GetGeneration(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	v, err := h.GenSvc.GetStatus(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, statusBody(v))
}

func (h *Handler) CancelGeneration(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	res, err := h.GenSvc.Cancel(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, res)
}

func (h *Handler) ListGenerations(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	res, err := h.GenSvc.List(c.Request.Context(), uid, generation.ListQuery{
		PresetID: c.Query("preset_id"),
		Status:   generation.Status(c.Query("status")),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]gin.H, 0, len(res.Items))
	for i := range res.Items {
		items = append(items, statusBody(&res.Items[i]))
	}
	common.OK(c, gin.H{
		"generations": items,
		"meta": gin.H{
			"total":    res.Total,
			"page":     res.Page,
			"limit":    res.Limit,
			"has_more": res.HasMore,
		},
	})
}

type favoriteReq struct {
	IsFavorite *bool `json:"is_favorite" binding:"required"`
}

func (h *Handler) SetFavorite(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req favoriteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	a, err := h.GenSvc.SetFavorite(c.Request.Context(), c.Param("id"), c.Param("asset_id"), uid, *req.IsFavorite)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, a)
}

// statusBody is the poll payload; metadata only appears once processing time is known.
func statusBody(v *generation.StatusView) gin.H {
	body := gin.H{
		"id":         v.ID,
		"preset_id":  v.PresetID,
		"status":     v.Status,
		"outputs":    v.Outputs,
		"created_at": v.CreatedAt,
	}
	if v.Error != nil {
		body["error"] = v.Error
	}
	if v.CompletedAt != nil {
		body["completed_at"] = v.CompletedAt
	}
	if v.ProcessingTimeSeconds != nil {
		body["metadata"] = gin.H{"processing_time_seconds": *v.ProcessingTimeSeconds}
	}
	return body
}
