package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aura-api/internal/common"
)

// DownloadAsset serves a stored output behind a signed, expiring link.
func (h *Handler) DownloadAsset(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("path"), "/")
	expires, err := strconv.ParseInt(c.Query("expires"), 10, 64)
	if err != nil || !h.Assets.Verify(key, expires, c.Query("sig")) {
		common.Fail(c, http.StatusForbidden, 40302, "invalid or expired link")
		return
	}

	path, err := h.Assets.Open(key)
	if err != nil {
		common.Fail(c, http.StatusNotFound, 40402, "asset not found")
		return
	}

	if ttl := time.Until(time.Unix(expires, 0)); ttl > 0 {
		c.Header("Cache-Control", "private, max-age="+strconv.Itoa(int(ttl/time.Second)))
	}
	c.File(path)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version,
	})
}
