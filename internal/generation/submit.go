package generation

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"

	"github.com/suPer8Hu/aura-api/internal/common"
	"github.com/suPer8Hu/aura-api/internal/inference"
	"github.com/suPer8Hu/aura-api/internal/preset"
	"github.com/suPer8Hu/aura-api/internal/prompt"
	"github.com/suPer8Hu/aura-api/internal/quota"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SubmitRequest struct {
	UserID       string
	PresetID     string
	ImageURL     string
	AspectRatio  string
	BatchSize    int
	CustomPrompt string
}

type SubmitResult struct {
	GenerationID      string
	ProviderJobID     string
	Status            Status
	EstimatedSeconds  int
	WebhookRegistered bool
	PollURL           string
}

// Submit gates, composes and persists a generation, then starts the provider job.
// Every rejection before the provider call leaves no row behind. Client retries
// are not deduplicated here.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := normalizeSubmit(&req); err != nil {
		return nil, err
	}

	// 1) quota
	decision, err := s.gate.Check(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !decision.CanGenerate {
		reason := decision.Reason
		if reason == "" {
			reason = "Daily limit exceeded"
		}
		return nil, reject(ErrQuotaExceeded, CodeRateLimitExceeded, reason)
	}

	// 2) preset
	p, err := s.presets.GetActive(ctx, req.PresetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reject(ErrInvalidPreset, CodeValidation, "Invalid preset_id")
		}
		return nil, err
	}

	// 3) entitlement
	if p.IsPremium && decision.Tier == quota.TierFree {
		return nil, reject(ErrSubscriptionRequired, CodeSubscriptionRequired, "Active Pro subscription needed for this preset")
	}

	// 4) moderation + prompt
	if strings.TrimSpace(req.CustomPrompt) != "" {
		verdict, err := s.moderator.Check(ctx, req.CustomPrompt)
		if err != nil {
			return nil, err
		}
		if !verdict.Allowed {
			msg := verdict.Message
			if msg == "" {
				msg = "Prompt contains blocked content"
			}
			return nil, reject(ErrContentPolicy, CodeContentModeration, msg)
		}
	}
	params := resolveParams(p, req)

	// 5) durability point
	now := s.now().UTC()
	g := &Generation{
		ID:          common.NewUUID(),
		UserID:      req.UserID,
		PresetID:    p.ID,
		Provider:    params.Provider,
		Status:      StatusStarting,
		InputParams: datatypes.NewJSONType(params),
		CreatedAt:   now,
	}
	if err := s.repo.CreateGeneration(ctx, g); err != nil {
		return nil, err
	}

	res := &SubmitResult{
		GenerationID: g.ID,
		Status:       StatusStarting,
		PollURL:      "/generations/" + g.ID,
	}

	// 6) provider call
	jobReq := inference.JobRequest{Input: providerInput(p, params)}
	if s.opts.PublicBaseURL != "" {
		jobReq.WebhookURL = s.webhookURL(g.ID)
		jobReq.WebhookEvents = []string{inference.WebhookEventCompleted}
	}

	job, err := s.createJob(ctx, params, jobReq)
	if err != nil {
		// 8) never leave the row in starting
		if markErr := s.repo.MarkSubmitFailed(ctx, g.ID, ErrorCodeProvider, err.Error(), s.now().UTC()); markErr != nil {
			log.Printf("[Submit] MarkSubmitFailed failed generation_id=%s err=%v", g.ID, markErr)
		}
		log.Printf("[Submit] provider rejected generation_id=%s provider=%s err=%v", g.ID, params.Provider, err)
		res.Status = StatusFailed
		return res, reject(ErrSubmissionFailed, CodeGenerationFailed, err.Error())
	}

	// 7) accepted
	res.ProviderJobID = job.ID
	res.WebhookRegistered = jobReq.WebhookURL != ""
	res.EstimatedSeconds = estimatedTimeSeconds

	moved, err := s.repo.MarkAccepted(ctx, g.ID, job.ID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if moved {
		res.Status = StatusProcessing
		return res, nil
	}

	// A cancel or an early callback got there first.
	cur, err := s.repo.GetGeneration(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	res.Status = cur.Status
	if cur.Status == StatusCanceled {
		s.cancelUpstream(ctx, params.Provider, job.ID)
	}
	return res, nil
}

func (s *Service) createJob(ctx context.Context, params InputParams, req inference.JobRequest) (inference.Job, error) {
	provider, err := s.providers.Get(ctx, params.Provider, params.Model)
	if err != nil {
		return inference.Job{}, err
	}
	return provider.CreateJob(ctx, req)
}

func (s *Service) webhookURL(generationID string) string {
	return s.opts.PublicBaseURL + webhookPath + "?" + webhookGenerationIDHint + "=" + url.QueryEscape(generationID)
}

func normalizeSubmit(req *SubmitRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return reject(ErrValidation, CodeValidation, "user id required")
	}
	if !common.IsUUID(req.PresetID) {
		return reject(ErrValidation, CodeValidation, "preset_id must be a uuid")
	}
	u, err := url.Parse(req.ImageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return reject(ErrValidation, CodeValidation, "image_url must be an absolute http(s) url")
	}
	if req.AspectRatio == "" {
		req.AspectRatio = defaultAspectRatio
	}
	if !aspectRatios[req.AspectRatio] {
		return reject(ErrValidation, CodeValidation, "aspect_ratio must be one of 1:1, 4:5, 16:9")
	}
	if req.BatchSize == 0 {
		req.BatchSize = defaultBatchSize
	}
	if req.BatchSize < 1 || req.BatchSize > maxBatchSize {
		return reject(ErrValidation, CodeValidation, "batch_size must be between 1 and 4")
	}
	if len([]rune(req.CustomPrompt)) > maxCustomPromptLen {
		return reject(ErrValidation, CodeValidation, "custom_prompt must be at most 500 characters")
	}
	return nil
}

func resolveParams(p *preset.Preset, req SubmitRequest) InputParams {
	provider := strings.TrimSpace(p.Provider)
	if provider == "" {
		provider = defaultProvider
	}
	return InputParams{
		PresetID:       p.ID,
		ImageURL:       req.ImageURL,
		AspectRatio:    req.AspectRatio,
		BatchSize:      req.BatchSize,
		CustomPrompt:   req.CustomPrompt,
		Prompt:         prompt.Compose(p.PromptTemplate, req.CustomPrompt),
		NegativePrompt: prompt.NegativeOrDefault(p.NegativePrompt),
		Provider:       provider,
		Model:          p.Model,
	}
}

// providerInput layers the preset's parameter bag over the base fields; the
// caller's aspect ratio and batch size always win.
func providerInput(p *preset.Preset, params InputParams) map[string]any {
	in := map[string]any{
		"image":           params.ImageURL,
		"prompt":          params.Prompt,
		"negative_prompt": params.NegativePrompt,
	}
	for k, v := range p.Parameters {
		in[k] = v
	}
	in["aspect_ratio"] = params.AspectRatio
	in["num_outputs"] = params.BatchSize
	return in
}
