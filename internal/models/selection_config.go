package models

import (
	"math"

	"gorm.io/gorm"
)

// weightEpsilon is the tolerance when checking that scoring weights sum to 1.0.
const weightEpsilon = 1e-6

// SelectionConfig controls automatic candidate selection for one asset type
// within a library.
type SelectionConfig struct {
	BaseModel

	// LibraryID scopes the config to a library.
	LibraryID ULID `gorm:"type:varchar(26);not null;uniqueIndex:idx_selection_library_asset" json:"library_id"`

	// AssetType is the asset slot this config governs.
	AssetType AssetType `gorm:"not null;size:20;uniqueIndex:idx_selection_library_asset" json:"asset_type"`

	// MinCount is the minimum number of selections to aim for.
	MinCount int `gorm:"not null;default:1" json:"min_count"`

	// MaxCount is the maximum number of selections.
	MaxCount int `gorm:"not null;default:1" json:"max_count"`

	// MinWidth and MinHeight reject candidates below these dimensions.
	// Zero disables the check.
	MinWidth  int `json:"min_width,omitempty"`
	MinHeight int `json:"min_height,omitempty"`

	// PreferredLanguage is the BCP 47 tag that scores highest.
	PreferredLanguage string `gorm:"size:16" json:"preferred_language,omitempty"`

	// FallbackLanguage scores half of a preferred match.
	FallbackLanguage string `gorm:"size:16" json:"fallback_language,omitempty"`

	// Scoring weights. They must sum to 1.0.
	WeightResolution float64 `gorm:"not null;default:0.4" json:"weight_resolution"`
	WeightVotes      float64 `gorm:"not null;default:0.3" json:"weight_votes"`
	WeightLanguage   float64 `gorm:"not null;default:0.2" json:"weight_language"`
	WeightProvider   float64 `gorm:"not null;default:0.1" json:"weight_provider"`

	// SimilarityThreshold is the perceptual-hash similarity (0.0 to 1.0)
	// above which two candidates count as near-duplicates; only the higher
	// scored one is kept. Zero disables deduplication.
	SimilarityThreshold float64 `gorm:"not null;default:0.92" json:"similarity_threshold"`

	// ProviderOrder lists provider names from most to least trusted. It feeds
	// the provider sub-score and breaks ties deterministically.
	ProviderOrder StringList `gorm:"type:text" json:"provider_order,omitempty"`

	// Required marks this asset type as mandatory for enrichment completeness.
	Required bool `gorm:"default:false" json:"required"`
}

// TableName returns the table name for SelectionConfig.
func (SelectionConfig) TableName() string {
	return "selection_configs"
}

// WeightSum returns the sum of the scoring weights.
func (c *SelectionConfig) WeightSum() float64 {
	return c.WeightResolution + c.WeightVotes + c.WeightLanguage + c.WeightProvider
}

// ProviderRank returns the priority rank of a provider name, or len(order)
// for providers not listed.
func (c *SelectionConfig) ProviderRank(provider string) int {
	for i, name := range c.ProviderOrder {
		if name == provider {
			return i
		}
	}
	return len(c.ProviderOrder)
}

// Validate checks weight and count invariants.
func (c *SelectionConfig) Validate() error {
	if math.Abs(c.WeightSum()-1.0) > weightEpsilon {
		return ErrWeightsMustSumToOne
	}
	if c.MinCount < 0 || c.MaxCount < 1 || c.MinCount > c.MaxCount {
		return ErrInvalidCountRange
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return ErrInvalidSimilarityThreshold
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the config and generates a ULID.
func (c *SelectionConfig) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// BeforeUpdate is a GORM hook that validates the config before update.
func (c *SelectionConfig) BeforeUpdate(tx *gorm.DB) error {
	return c.Validate()
}
