package handlers

import (
	"context"
	"strings"

	"github.com/suPer8Hu/aura-api/internal/config"
	"github.com/suPer8Hu/aura-api/internal/generation"
	"github.com/suPer8Hu/aura-api/internal/inference"
	"github.com/suPer8Hu/aura-api/internal/moderation"
	"github.com/suPer8Hu/aura-api/internal/preset"
	"github.com/suPer8Hu/aura-api/internal/quota"
	"github.com/suPer8Hu/aura-api/internal/storage"
	"gorm.io/gorm"
)

const version = "1.0.0"

type Handler struct {
	DB         *gorm.DB
	Cfg        config.Config
	GenSvc     *generation.Service
	Reconciler *generation.Reconciler
	Presets    *preset.Repo
	Assets     *storage.Local
}

// NewHandler wires the generation core. A nil publisher keeps materialization inline.
func NewHandler(db *gorm.DB, cfg config.Config, pub generation.TaskPublisher) (*Handler, error) {
	// Provider registry (route by preset.Provider + preset.Model)
	reg := inference.NewRegistry()
	reg.Register("replicate", func(ctx context.Context, model string) (inference.Provider, error) {
		_ = ctx
		return inference.NewReplicateProvider(cfg.ReplicateBaseURL, cfg.ReplicateAPIToken, strings.TrimSpace(model)), nil
	})
	return NewHandlerWithProviders(db, cfg, reg, pub)
}

func NewHandlerWithProviders(db *gorm.DB, cfg config.Config, reg *inference.Registry, pub generation.TaskPublisher) (*Handler, error) {
	store, err := storage.NewLocal(cfg.StorageDir, cfg.APIURL, storage.NewSigner(cfg.AssetURLSecret))
	if err != nil {
		return nil, err
	}

	repo := generation.NewRepo(db)
	presets := preset.NewRepo(db)

	svc := generation.NewService(generation.Deps{
		Repo:      repo,
		Presets:   presets,
		Gate:      quota.NewGate(db, repo, cfg.FreeDailyLimit, cfg.ProDailyLimit),
		Moderator: moderation.NewBlocklist(db),
		Providers: reg,
		Store:     store,
	}, generation.Options{
		PublicBaseURL: cfg.APIURL,
		SignedURLTTL:  cfg.SignedURLTTL,
	})

	var dispatcher generation.Dispatcher = generation.InlineDispatcher{
		M: generation.NewMaterializer(repo, store, cfg.AssetFetchTimeout),
	}
	if pub != nil && cfg.MaterializeMode == config.MaterializeQueue {
		dispatcher = generation.QueueDispatcher{Queue: pub, Fallback: dispatcher}
	}

	return &Handler{
		DB:         db,
		Cfg:        cfg,
		GenSvc:     svc,
		Reconciler: generation.NewReconciler(repo, cfg.WebhookSecret, dispatcher),
		Presets:    presets,
		Assets:     store,
	}, nil
}
