package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Subscription holds the billing system's entitlement flag for a user.
// A missing row or an expired one means the free tier.
type Subscription struct {
	UserID    string     `gorm:"primaryKey;type:varchar(64)"`
	Tier      Tier       `gorm:"type:varchar(16);not null"`
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Subscription) TableName() string { return "subscriptions" }

// Decision is computed per request and never stored.
type Decision struct {
	CanGenerate bool
	Reason      string
	Tier        Tier
	Used        int64
	Limit       int
}

// UsageCounter counts generations that consume quota since a point in time.
type UsageCounter interface {
	CountSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

type Gate struct {
	db     *gorm.DB
	usage  UsageCounter
	limits map[Tier]int
	now    func() time.Time
}

// NewGate builds a gate with per-tier daily limits. A negative limit means unlimited.
func NewGate(db *gorm.DB, usage UsageCounter, freeLimit, proLimit int) *Gate {
	return &Gate{
		db:     db,
		usage:  usage,
		limits: map[Tier]int{TierFree: freeLimit, TierPro: proLimit},
		now:    time.Now,
	}
}

func (g *Gate) Check(ctx context.Context, userID string) (Decision, error) {
	now := g.now().UTC()

	tier, err := g.TierFor(ctx, userID, now)
	if err != nil {
		return Decision{}, err
	}

	limit, ok := g.limits[tier]
	if !ok {
		limit = g.limits[TierFree]
	}
	if limit < 0 {
		return Decision{CanGenerate: true, Tier: tier, Limit: limit}, nil
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	used, err := g.usage.CountSince(ctx, userID, dayStart)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{CanGenerate: used < int64(limit), Tier: tier, Used: used, Limit: limit}
	if !d.CanGenerate {
		d.Reason = fmt.Sprintf("Daily limit of %d generations reached for the %s tier", limit, tier)
	}
	return d, nil
}

func (g *Gate) TierFor(ctx context.Context, userID string, at time.Time) (Tier, error) {
	var sub Subscription
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TierFree, nil
	}
	if err != nil {
		return "", err
	}
	if sub.ExpiresAt != nil && !sub.ExpiresAt.After(at) {
		return TierFree, nil
	}
	if sub.Tier == "" {
		return TierFree, nil
	}
	return sub.Tier, nil
}

// SetSubscription is used by the admin CLI and tests; billing owns this table in production.
func SetSubscription(ctx context.Context, db *gorm.DB, userID string, tier Tier, expiresAt *time.Time) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tier", "expires_at", "updated_at"}),
		}).
		Create(&Subscription{UserID: userID, Tier: tier, ExpiresAt: expiresAt}).Error
}
