package generation

import (
	"context"
	"time"

	"github.com/suPer8Hu/aura-api/internal/inference"
	"github.com/suPer8Hu/aura-api/internal/moderation"
	"github.com/suPer8Hu/aura-api/internal/preset"
	"github.com/suPer8Hu/aura-api/internal/quota"
	"github.com/suPer8Hu/aura-api/internal/storage"
)

// Gate decides whether a user may start another generation.
type Gate interface {
	Check(ctx context.Context, userID string) (quota.Decision, error)
}

type PresetSource interface {
	GetActive(ctx context.Context, id string) (*preset.Preset, error)
}

const (
	defaultProvider         = "replicate"
	defaultAspectRatio      = "4:5"
	defaultBatchSize        = 4
	maxBatchSize            = 4
	maxCustomPromptLen      = 500
	estimatedTimeSeconds    = 25
	webhookPath             = "/webhooks/replicate"
	defaultSignedURLTTL     = time.Hour
	webhookGenerationIDHint = "generation_id"
)

var aspectRatios = map[string]bool{"1:1": true, "4:5": true, "16:9": true}

// Options is fixed at construction time.
type Options struct {
	// PublicBaseURL is this service's externally reachable address. Empty
	// means the provider is not given a callback.
	PublicBaseURL string
	SignedURLTTL  time.Duration
}

type Deps struct {
	Repo      *Repo
	Presets   PresetSource
	Gate      Gate
	Moderator moderation.Checker
	Providers *inference.Registry
	Store     storage.Store
}

// Service is the client-facing side: submission, status, cancellation and gallery.
type Service struct {
	repo      *Repo
	presets   PresetSource
	gate      Gate
	moderator moderation.Checker
	providers *inference.Registry
	store     storage.Store
	opts      Options
	now       func() time.Time
}

func NewService(d Deps, opts Options) *Service {
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = defaultSignedURLTTL
	}
	return &Service{
		repo:      d.Repo,
		presets:   d.Presets,
		gate:      d.Gate,
		moderator: d.Moderator,
		providers: d.Providers,
		store:     d.Store,
		opts:      opts,
		now:       time.Now,
	}
}
