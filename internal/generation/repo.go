package generation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateGeneration(ctx context.Context, g *Generation) error {
	return r.db.WithContext(ctx).Create(g).Error
}

// GetGeneration maps a missing row to ErrNotFound.
func (r *Repo) GetGeneration(ctx context.Context, id string) (*Generation, error) {
	var g Generation
	if err := r.db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

func (r *Repo) GetByProviderJobID(ctx context.Context, jobID string) (*Generation, error) {
	var g Generation
	if err := r.db.WithContext(ctx).First(&g, "provider_job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// MarkAccepted records the provider job id and moves starting -> processing.
// It reports false when the row already left starting (a cancel or an early
// webhook won); the job id is still recorded if the slot is empty.
func (r *Repo) MarkAccepted(ctx context.Context, id, jobID string, startedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Generation{}).
		Where("id = ? AND status = ? AND (provider_job_id IS NULL OR provider_job_id = ?)", id, StatusStarting, jobID).
		Updates(map[string]any{
			"provider_job_id": jobID,
			"status":          StatusProcessing,
			"started_at":      startedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	err := r.db.WithContext(ctx).Model(&Generation{}).
		Where("id = ? AND provider_job_id IS NULL", id).
		Update("provider_job_id", jobID).Error
	return false, err
}

// MarkSubmitFailed moves a starting generation straight to failed.
func (r *Repo) MarkSubmitFailed(ctx context.Context, id, code, msg string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Generation{}).
		Where("id = ? AND status = ?", id, StatusStarting).
		Updates(map[string]any{
			"status":        StatusFailed,
			"error_code":    code,
			"error_message": msg,
			"completed_at":  at,
		}).Error
}

type Transition struct {
	ProviderJobID string
	// GenerationID matches a row whose job id is not recorded yet, for
	// callbacks that overtake the submission's own bookkeeping.
	GenerationID string
	Status       Status
	ErrorMessage string
	PredictTime  *float64
	At           time.Time
}

// ApplyTransition is the single guarded write behind webhook reconciliation:
// it only matches rows that are still non-terminal, so exactly one of any set
// of racing deliveries (or a racing cancel) wins. It returns the winning row.
func (r *Repo) ApplyTransition(ctx context.Context, t Transition) (*Generation, bool, error) {
	updates := map[string]any{"status": t.Status}
	if t.Status.Terminal() {
		updates["completed_at"] = t.At
		if t.PredictTime != nil {
			updates["processing_time_seconds"] = *t.PredictTime
		}
	}
	if t.Status == StatusFailed {
		msg := t.ErrorMessage
		if msg == "" {
			msg = "generation failed"
		}
		updates["error_code"] = ErrorCodePrediction
		updates["error_message"] = msg
	}

	q := r.db.WithContext(ctx).Model(&Generation{}).Where("status IN ?", nonTerminal)
	if t.GenerationID != "" {
		q = q.Where("(provider_job_id = ? OR (id = ? AND provider_job_id IS NULL))", t.ProviderJobID, t.GenerationID)
		updates["provider_job_id"] = gorm.Expr("COALESCE(provider_job_id, ?)", t.ProviderJobID)
	} else {
		q = q.Where("provider_job_id = ?", t.ProviderJobID)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}

	g, err := r.GetByProviderJobID(ctx, t.ProviderJobID)
	if err != nil {
		return nil, true, err
	}
	return g, true, nil
}

// Cancel marks the caller's generation canceled unless it is already terminal.
func (r *Repo) Cancel(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Generation{}).
		Where("id = ? AND user_id = ? AND status IN ?", id, userID, nonTerminal).
		Updates(map[string]any{
			"status":       StatusCanceled,
			"completed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountSince counts generations that consume daily quota; failed ones do not.
func (r *Repo) CountSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Generation{}).
		Where("user_id = ? AND created_at >= ? AND status <> ?", userID, since, StatusFailed).
		Count(&n).Error
	return n, err
}

type ListFilter struct {
	PresetID string
	Status   Status
	Offset   int
	Limit    int
}

// ListByUser returns the user's generations newest first, plus the total matching count.
func (r *Repo) ListByUser(ctx context.Context, userID string, f ListFilter) ([]Generation, int64, error) {
	q := r.db.WithContext(ctx).Model(&Generation{}).Where("user_id = ?", userID)
	if f.PresetID != "" {
		q = q.Where("preset_id = ?", f.PresetID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []Generation
	if err := q.Order("created_at DESC").Order("id DESC").
		Offset(f.Offset).Limit(f.Limit).
		Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// InsertAsset is idempotent per (generation, ordinal); a redelivered output is ignored.
func (r *Repo) InsertAsset(ctx context.Context, a *Asset) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(a)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) AssetOrdinals(ctx context.Context, generationID string) (map[int]bool, error) {
	var ords []int
	if err := r.db.WithContext(ctx).Model(&Asset{}).
		Where("generation_id = ?", generationID).
		Pluck("ordinal", &ords).Error; err != nil {
		return nil, err
	}
	out := make(map[int]bool, len(ords))
	for _, o := range ords {
		out[o] = true
	}
	return out, nil
}

// ListAssets returns assets grouped by generation id, each group in ordinal order.
func (r *Repo) ListAssets(ctx context.Context, generationIDs ...string) (map[string][]Asset, error) {
	out := make(map[string][]Asset, len(generationIDs))
	if len(generationIDs) == 0 {
		return out, nil
	}
	var assets []Asset
	if err := r.db.WithContext(ctx).
		Where("generation_id IN ?", generationIDs).
		Order("generation_id ASC").Order("ordinal ASC").
		Find(&assets).Error; err != nil {
		return nil, err
	}
	for _, a := range assets {
		out[a.GenerationID] = append(out[a.GenerationID], a)
	}
	return out, nil
}

func (r *Repo) SetFavorite(ctx context.Context, generationID, assetID string, favorite bool) (*Asset, error) {
	var a Asset
	if err := r.db.WithContext(ctx).
		First(&a, "id = ? AND generation_id = ?", assetID, generationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&a).Update("is_favorite", favorite).Error; err != nil {
		return nil, err
	}
	a.IsFavorite = favorite
	return &a, nil
}
