package models

// PublishAudit records the outcome of a single publish attempt. One row is
// written per attempt, success or failure, so operators can trace what
// reached the library and when.
type PublishAudit struct {
	BaseModel

	// EntityID is the entity that was published.
	EntityID ULID `gorm:"type:varchar(26);not null;index" json:"entity_id"`

	// Success indicates the attempt completed without error.
	Success bool `gorm:"not null;index" json:"success"`

	// Skipped indicates the attempt was a no-op because the descriptor hash
	// matched the previously published one.
	Skipped bool `gorm:"default:false" json:"skipped"`

	// DescriptorHash is the SHA-256 of the descriptor that was (or would have
	// been) written.
	DescriptorHash string `gorm:"size:64" json:"descriptor_hash,omitempty"`

	// AssetsWritten is the number of asset files copied to the library.
	AssetsWritten int `json:"assets_written"`

	// DurationMs is how long the attempt took.
	DurationMs int64 `json:"duration_ms"`

	// Error holds the failure message for unsuccessful attempts.
	Error string `gorm:"size:4096" json:"error,omitempty"`
}

// TableName returns the table name for PublishAudit.
func (PublishAudit) TableName() string {
	return "publish_audits"
}
