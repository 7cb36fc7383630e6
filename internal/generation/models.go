package generation

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// nonTerminal is the predicate every guarded transition matches on.
var nonTerminal = []Status{StatusStarting, StatusProcessing}

func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	return s == StatusStarting || s == StatusProcessing || s.Terminal()
}

const (
	ErrorCodeProvider   = "PROVIDER_ERROR"
	ErrorCodePrediction = "PREDICTION_FAILED"
)

// InputParams is the fully resolved request, frozen at submission time so audits
// and resubmissions never depend on later preset edits.
type InputParams struct {
	PresetID       string `json:"preset_id"`
	ImageURL       string `json:"image_url"`
	AspectRatio    string `json:"aspect_ratio"`
	BatchSize      int    `json:"batch_size"`
	CustomPrompt   string `json:"custom_prompt,omitempty"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
}

type Generation struct {
	ID       string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID   string `gorm:"type:varchar(64);not null;index:idx_gen_user_created,priority:1" json:"-"`
	PresetID string `gorm:"type:varchar(36);index;not null" json:"preset_id"`
	Provider string `gorm:"type:varchar(32);not null" json:"-"`
	Status   Status `gorm:"type:varchar(16);index;not null" json:"status"`

	InputParams datatypes.JSONType[InputParams] `gorm:"type:json" json:"input_params"`

	// Set once when the provider accepts the job, never overwritten.
	ProviderJobID *string `gorm:"type:varchar(128);uniqueIndex" json:"-"`

	// Filled when failed
	ErrorCode    *string `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	ErrorMessage *string `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt             time.Time  `gorm:"index:idx_gen_user_created,priority:2" json:"created_at"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	ProcessingTimeSeconds *float64   `json:"processing_time_seconds,omitempty"`
	UpdatedAt             time.Time  `json:"-"`
}

func (Generation) TableName() string { return "generations" }

type Asset struct {
	ID           string `gorm:"primaryKey;type:varchar(26)" json:"id"` // ULID
	GenerationID string `gorm:"type:varchar(36);not null;index:uniq_asset_gen_ordinal,unique,priority:1" json:"generation_id"`
	Ordinal      int    `gorm:"not null;index:uniq_asset_gen_ordinal,unique,priority:2" json:"ordinal"`

	// storage key for private objects, or an absolute URL for public ones
	ImageURL    string `gorm:"type:varchar(1024);not null" json:"-"`
	Variant     string `gorm:"type:varchar(32);not null" json:"variant"`
	Width       *int   `json:"width,omitempty"`
	Height      *int   `json:"height,omitempty"`
	ContentType string `gorm:"type:varchar(64)" json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	IsFavorite  bool   `gorm:"not null;default:false" json:"is_favorite"`

	CreatedAt time.Time `json:"created_at"`
}

func (Asset) TableName() string { return "generation_assets" }

// variants label outputs by position.
var variants = []string{"safe_match", "editorial", "lifestyle", "artistic"}

const fallbackVariant = "custom"

func VariantFor(ordinal int) string {
	if ordinal >= 0 && ordinal < len(variants) {
		return variants[ordinal]
	}
	return fallbackVariant
}
