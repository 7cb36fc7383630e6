package moderation

import (
	"context"
	"strings"
	"time"
	"unicode"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Verdict struct {
	Allowed bool
	Message string
}

// Checker is the content moderation check run on user-supplied prompt text.
type Checker interface {
	Check(ctx context.Context, text string) (Verdict, error)
}

type BlockedTerm struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Term      string    `gorm:"type:varchar(128);uniqueIndex;not null"`
	CreatedAt time.Time
}

func (BlockedTerm) TableName() string { return "prompt_blocklist" }

// Blocklist rejects text containing any stored term as a whole word or phrase, case-insensitively.
type Blocklist struct {
	db *gorm.DB
}

func NewBlocklist(db *gorm.DB) *Blocklist {
	return &Blocklist{db: db}
}

func (b *Blocklist) Check(ctx context.Context, text string) (Verdict, error) {
	var terms []string
	if err := b.db.WithContext(ctx).Model(&BlockedTerm{}).Pluck("term", &terms).Error; err != nil {
		return Verdict{}, err
	}

	normalized := " " + normalize(text) + " "
	for _, t := range terms {
		nt := normalize(t)
		if nt == "" {
			continue
		}
		if strings.Contains(normalized, " "+nt+" ") {
			return Verdict{Allowed: false, Message: "Prompt contains blocked content"}, nil
		}
	}
	return Verdict{Allowed: true}, nil
}

func (b *Blocklist) Add(ctx context.Context, term string) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}
	return b.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&BlockedTerm{Term: strings.ToLower(term)}).Error
}

// normalize lowercases and collapses every run of non-alphanumerics into one space.
func normalize(s string) string {
	var sb strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			space = false
			continue
		}
		if !space {
			sb.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(sb.String())
}
