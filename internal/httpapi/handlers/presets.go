package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aura-api/internal/common"
	"github.com/suPer8Hu/aura-api/internal/preset"
)

func (h *Handler) ListPresets(c *gin.Context) {
	mode := preset.Mode(c.Query("mode"))
	if mode != "" && !mode.Valid() {
		common.FailWithData(c, http.StatusBadRequest, 40001, "mode must be one of persona, object, vibe", gin.H{"reason": "VALIDATION_ERROR"})
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}
	offset := (page - 1) * limit

	presets, total, err := h.Presets.ListActive(c.Request.Context(), mode, offset, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list presets")
		return
	}

	common.OK(c, gin.H{
		"presets": presets,
		"meta": gin.H{
			"total":    total,
			"page":     page,
			"limit":    limit,
			"has_more": total > int64(offset+len(presets)),
		},
	})
}
