package models

// AssetType identifies the kind of artwork or companion file a candidate
// provides.
type AssetType string

const (
	// AssetTypePoster is the primary vertical artwork.
	AssetTypePoster AssetType = "poster"
	// AssetTypeFanart is widescreen background artwork.
	AssetTypeFanart AssetType = "fanart"
	// AssetTypeBanner is wide horizontal artwork.
	AssetTypeBanner AssetType = "banner"
	// AssetTypeThumb is a small preview image.
	AssetTypeThumb AssetType = "thumb"
	// AssetTypeTrailer is a video trailer.
	AssetTypeTrailer AssetType = "trailer"
	// AssetTypeSubtitle is a subtitle file.
	AssetTypeSubtitle AssetType = "subtitle"
)

// AssetCandidate is one provider-offered asset for an entity. Candidates are
// persisted across enrichment runs so scoring and selection stay
// reproducible and operator rejections stick.
type AssetCandidate struct {
	BaseModel

	// EntityID is the entity this candidate belongs to.
	EntityID ULID `gorm:"type:varchar(26);not null;index:idx_candidates_entity_type" json:"entity_id"`

	// AssetType is the asset slot this candidate competes for.
	AssetType AssetType `gorm:"not null;size:20;index:idx_candidates_entity_type" json:"asset_type"`

	// Provider is the name of the provider that offered this candidate.
	Provider string `gorm:"not null;size:50;index" json:"provider"`

	// ProviderURL is the remote location of the asset content.
	ProviderURL string `gorm:"not null;size:2048" json:"provider_url"`

	// Width and Height are the pixel dimensions, zero if unknown.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// DurationSec is the runtime for video candidates, zero otherwise.
	DurationSec int `json:"duration_sec,omitempty"`

	// Votes is the provider-reported vote count.
	Votes int `json:"votes,omitempty"`

	// VoteAverage is the provider-reported average rating (0-10 scale).
	VoteAverage float64 `json:"vote_average,omitempty"`

	// Language is the BCP 47 language tag of the asset, empty if undetermined.
	Language string `gorm:"size:16" json:"language,omitempty"`

	// AutoScore is the weighted score computed by the last selection run.
	AutoScore float64 `gorm:"index" json:"auto_score"`

	// PerceptualHash is the 64-bit dHash of the downloaded image, zero until
	// the content has been fetched.
	PerceptualHash uint64 `gorm:"default:0" json:"perceptual_hash,omitempty"`

	// DiscoveryOrder preserves the order candidates arrived from providers.
	// Used as the final deterministic tie-break.
	DiscoveryOrder int `gorm:"default:0" json:"discovery_order"`

	// IsSelected marks the candidate as chosen by selection (automatic or
	// operator override).
	IsSelected bool `gorm:"default:false;index" json:"is_selected"`

	// IsRejected marks a candidate the operator excluded. Rejected candidates
	// never re-enter automatic selection.
	IsRejected bool `gorm:"default:false" json:"is_rejected"`

	// DownloadFailed marks a candidate whose content could not be fetched or
	// verified. Failed candidates are skipped on subsequent selection runs.
	DownloadFailed bool `gorm:"default:false" json:"download_failed"`

	// FailureReason explains the last download failure.
	FailureReason string `gorm:"size:1024" json:"failure_reason,omitempty"`

	// ContentHash is the SHA-256 of the cached content, empty until the asset
	// has been downloaded into the cache. A selected candidate with an empty
	// ContentHash is a valid transient state between selection and download.
	ContentHash string `gorm:"size:64;index" json:"content_hash,omitempty"`
}

// TableName returns the table name for AssetCandidate.
func (AssetCandidate) TableName() string {
	return "asset_candidates"
}

// IsResolved reports whether the candidate is selected and its content is in
// the cache.
func (c *AssetCandidate) IsResolved() bool {
	return c.IsSelected && c.ContentHash != ""
}

// Selectable reports whether the candidate may participate in automatic
// selection.
func (c *AssetCandidate) Selectable() bool {
	return !c.IsRejected && !c.DownloadFailed
}

// Pixels returns the candidate's pixel area.
func (c *AssetCandidate) Pixels() int {
	return c.Width * c.Height
}
