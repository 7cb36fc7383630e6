package preset

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// GetActive returns gorm.ErrRecordNotFound for unknown or retired presets.
func (r *Repo) GetActive(ctx context.Context, id string) (*Preset, error) {
	var p Preset
	if err := r.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListActive returns one page of active presets in catalogue order plus the total count.
func (r *Repo) ListActive(ctx context.Context, mode Mode, offset, limit int) ([]Preset, int64, error) {
	q := r.db.WithContext(ctx).Model(&Preset{}).Where("is_active = ?", true)
	if mode != "" {
		q = q.Where("mode = ?", mode)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []Preset
	if err := q.Order("sort_order ASC").Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Upsert inserts or fully replaces presets by id, used by the admin import.
func (r *Repo) Upsert(ctx context.Context, presets []Preset) error {
	if len(presets) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&presets).Error
}

// IDsBySlug maps existing slugs to their ids so re-imports keep stable ids.
func (r *Repo) IDsBySlug(ctx context.Context, slugs []string) (map[string]string, error) {
	out := make(map[string]string, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}
	var rows []Preset
	if err := r.db.WithContext(ctx).Select("id", "slug").Where("slug IN ?", slugs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.Slug] = p.ID
	}
	return out, nil
}
