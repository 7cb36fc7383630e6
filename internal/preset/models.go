package preset

import (
	"time"

	"gorm.io/datatypes"
)

type Mode string

const (
	ModePersona Mode = "persona"
	ModeObject  Mode = "object"
	ModeVibe    Mode = "vibe"
)

func (m Mode) Valid() bool {
	switch m {
	case ModePersona, ModeObject, ModeVibe:
		return true
	}
	return false
}

// Preset is catalogue data owned by the content team; generations only read it.
type Preset struct {
	ID           string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name         string  `gorm:"type:varchar(128);not null" json:"name"`
	Slug         string  `gorm:"type:varchar(128);uniqueIndex;not null" json:"slug"`
	Description  *string `gorm:"type:text" json:"description"`
	Mode         Mode    `gorm:"type:varchar(16);index;not null" json:"mode"`
	IconURL      *string `gorm:"type:varchar(512)" json:"icon_url"`
	ThumbnailURL *string `gorm:"type:varchar(512)" json:"thumbnail_url"`
	IsPremium    bool    `gorm:"not null" json:"is_premium"`
	IsActive     bool    `gorm:"index;not null" json:"-"`
	SortOrder    int     `gorm:"index;not null" json:"-"`

	// inference settings
	Provider       string            `gorm:"type:varchar(32);not null" json:"-"`
	Model          string            `gorm:"type:varchar(255)" json:"-"`
	PromptTemplate string            `gorm:"type:text;not null" json:"-"`
	NegativePrompt string            `gorm:"type:text" json:"-"`
	Parameters     datatypes.JSONMap `gorm:"type:json" json:"parameters"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (Preset) TableName() string { return "presets" }
