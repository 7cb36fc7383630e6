package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aura-api/internal/common"
	"github.com/suPer8Hu/aura-api/internal/config"
	"github.com/suPer8Hu/aura-api/internal/httpapi/handlers"
	"github.com/suPer8Hu/aura-api/internal/httpapi/middleware"
)

const submitScope = "submit"

// NewRouter mounts the API. limiter may be nil, which disables submit rate limiting.
func NewRouter(h *handlers.Handler, cfg config.Config, limiter middleware.Limiter) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		CustomSchemas:    customSchemas(cfg.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", h.Health)

	// provider callbacks authenticate with a shared secret, not a user token
	r.POST("/webhooks/replicate", h.ReplicateWebhook)

	// signed links
	r.GET("/assets/*path", h.DownloadAsset)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/presets", h.ListPresets)
	authGroup.POST("/generations",
		middleware.RateLimit(limiter, submitScope, cfg.SubmitRateLimitPerMinute, time.Minute),
		h.SubmitGeneration)
	authGroup.GET("/generations", h.ListGenerations)
	authGroup.GET("/generations/:id", h.GetGeneration)
	authGroup.DELETE("/generations/:id", h.CancelGeneration)
	authGroup.PUT("/generations/:id/assets/:asset_id/favorite", h.SetFavorite)
	return r
}

// customSchemas lists non-http origin schemes (the app's own, capacitor) so cors accepts them.
func customSchemas(origins []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, o := range origins {
		scheme, _, ok := strings.Cut(o, "://")
		if !ok || scheme == "http" || scheme == "https" || seen[scheme] {
			continue
		}
		seen[scheme] = true
		out = append(out, scheme+"://")
	}
	return out
}
