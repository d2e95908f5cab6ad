package models

// CacheEntry is the database record for one content-addressed blob in the
// asset cache. The content hash is the identity; the reference count tracks
// how many asset candidates currently point at the blob.
type CacheEntry struct {
	BaseModel

	// ContentHash is the SHA-256 hex digest of the blob.
	ContentHash string `gorm:"not null;uniqueIndex;size:64" json:"content_hash"`

	// RelativePath is the blob location relative to the cache base directory,
	// sharded by the first two hash characters.
	RelativePath string `gorm:"not null;size:512" json:"relative_path"`

	// SizeBytes is the blob size on disk.
	SizeBytes int64 `gorm:"not null" json:"size_bytes"`

	// MimeType is the detected content type.
	MimeType string `gorm:"size:100" json:"mime_type,omitempty"`

	// AssetType records what kind of asset first produced this blob.
	AssetType AssetType `gorm:"size:20" json:"asset_type,omitempty"`

	// ReferenceCount is the number of live attachments. Blobs with a zero
	// count are garbage collection candidates.
	ReferenceCount int64 `gorm:"not null;default:0;index" json:"reference_count"`

	// LastUsedAt is updated on every attach and cache hit.
	LastUsedAt Time `json:"last_used_at"`

	// OrphanedAt is set by the GC mark phase when the reference count reaches
	// zero, and cleared by any subsequent attach. The sweep phase only
	// deletes entries orphaned longer than the grace period.
	OrphanedAt *Time `gorm:"index" json:"orphaned_at,omitempty"`
}

// TableName returns the table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// IsOrphaned reports whether the entry is unreferenced and marked for sweep.
func (e *CacheEntry) IsOrphaned() bool {
	return e.ReferenceCount == 0 && e.OrphanedAt != nil
}
