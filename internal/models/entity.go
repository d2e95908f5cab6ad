package models

import "gorm.io/gorm"

// EntityKind identifies what a library entity represents.
type EntityKind string

const (
	// EntityKindMovie is a single feature film.
	EntityKindMovie EntityKind = "movie"
	// EntityKindSeries is a television series.
	EntityKindSeries EntityKind = "series"
	// EntityKindEpisode is a single episode of a series.
	EntityKindEpisode EntityKind = "episode"
	// EntityKindAlbum is a music album.
	EntityKindAlbum EntityKind = "album"
	// EntityKindTrack is a single music track.
	EntityKindTrack EntityKind = "track"
)

// EntityState is the lifecycle state of a library entity.
//
// Entities move forward through discovered -> identified -> enriched ->
// published. Re-running a stage keeps the entity in place; published
// entities accumulate unpublished changes instead of regressing.
type EntityState string

const (
	// StateDiscovered means the entity was found on disk but not yet matched
	// against any metadata provider.
	StateDiscovered EntityState = "discovered"
	// StateIdentified means provider identity and scalar metadata are known.
	StateIdentified EntityState = "identified"
	// StateEnriched means all required fields and asset selections are resolved.
	StateEnriched EntityState = "enriched"
	// StatePublished means the library copy reflects the enriched state.
	StatePublished EntityState = "published"
)

// validTransitions lists the allowed forward edges of the lifecycle.
// Same-state re-runs are always allowed and not listed here.
var validTransitions = map[EntityState][]EntityState{
	StateDiscovered: {StateIdentified},
	StateIdentified: {StateEnriched},
	StateEnriched:   {StatePublished},
	StatePublished:  {},
}

// CanTransition reports whether moving from s to target is legal.
func (s EntityState) CanTransition(target EntityState) bool {
	if s == target {
		return true
	}
	for _, next := range validTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Entity is a single managed media item within a library.
type Entity struct {
	BaseModel

	// LibraryID is the owning library.
	LibraryID ULID `gorm:"type:varchar(26);not null;index" json:"library_id"`

	// Kind identifies what this entity represents.
	Kind EntityKind `gorm:"not null;size:20;index" json:"kind"`

	// Title is the display title.
	Title string `gorm:"not null;size:512" json:"title"`

	// SortTitle is the title normalized for ordering.
	SortTitle string `gorm:"size:512" json:"sort_title,omitempty"`

	// Year is the release year, zero if unknown.
	Year int `json:"year,omitempty"`

	// Overview is the plot or description text.
	Overview string `gorm:"size:8192" json:"overview,omitempty"`

	// ProviderIDs maps provider name to the external identifier assigned
	// during identification.
	ProviderIDs StringMap `gorm:"type:text" json:"provider_ids,omitempty"`

	// SourcePath is the media file path discovered on disk, relative to the
	// library root.
	SourcePath string `gorm:"size:1024" json:"source_path,omitempty"`

	// State is the current lifecycle state.
	State EntityState `gorm:"not null;size:20;default:'discovered';index" json:"state"`

	// Monitored gates all automated mutations of this entity. Unmonitored
	// entities are frozen: no identification, enrichment, or publishing.
	Monitored *bool `gorm:"default:true" json:"monitored"`

	// FieldLocks names metadata fields pinned by the operator. Locked fields
	// survive re-identification and re-enrichment untouched.
	FieldLocks LockSet `gorm:"type:text" json:"field_locks,omitempty"`

	// AssetLocks names asset types whose selections are pinned by the
	// operator. Locked asset types keep their current selection through
	// re-enrichment.
	AssetLocks LockSet `gorm:"type:text" json:"asset_locks,omitempty"`

	// HasUnpublishedChanges is set when enrichment mutates a published
	// entity; cleared by the next successful publish.
	HasUnpublishedChanges bool `gorm:"default:false;index" json:"has_unpublished_changes"`

	// PublishedDescriptorHash is the content hash of the descriptor written
	// by the last successful publish. Used to skip no-op republishes.
	PublishedDescriptorHash string `gorm:"size:64" json:"published_descriptor_hash,omitempty"`

	// LastEnrichedAt is when enrichment last completed.
	LastEnrichedAt *Time `json:"last_enriched_at,omitempty"`

	// LastPublishedAt is when publish last succeeded.
	LastPublishedAt *Time `json:"last_published_at,omitempty"`
}

// TableName returns the table name for Entity.
func (Entity) TableName() string {
	return "entities"
}

// IsMonitored returns true if automated work is allowed for this entity.
func (e *Entity) IsMonitored() bool {
	return BoolVal(e.Monitored)
}

// FieldLocked reports whether the named metadata field is locked.
func (e *Entity) FieldLocked(field string) bool {
	return e.FieldLocks.Locked(field)
}

// AssetLocked reports whether the named asset type is locked.
func (e *Entity) AssetLocked(assetType AssetType) bool {
	return e.AssetLocks.Locked(string(assetType))
}

// LockField pins a metadata field against automated overwrites.
func (e *Entity) LockField(field string) {
	e.FieldLocks = e.FieldLocks.Lock(field)
}

// UnlockField releases a pinned metadata field.
func (e *Entity) UnlockField(field string) {
	e.FieldLocks = e.FieldLocks.Unlock(field)
}

// LockAsset pins an asset type's selection against automated changes.
func (e *Entity) LockAsset(assetType AssetType) {
	e.AssetLocks = e.AssetLocks.Lock(string(assetType))
}

// UnlockAsset releases a pinned asset type.
func (e *Entity) UnlockAsset(assetType AssetType) {
	e.AssetLocks = e.AssetLocks.Unlock(string(assetType))
}

// Transition moves the entity to the target state, or returns a
// StateTransitionError if the edge is not allowed.
func (e *Entity) Transition(target EntityState) error {
	if !e.State.CanTransition(target) {
		return &StateTransitionError{From: e.State, To: target}
	}
	e.State = target
	return nil
}

// MarkIdentified records a successful identification.
func (e *Entity) MarkIdentified() error {
	return e.Transition(StateIdentified)
}

// MarkEnriched records that required fields and asset selections are complete.
// Enriching an already published entity flags it for republish instead of
// regressing its state.
func (e *Entity) MarkEnriched() error {
	now := Now()
	e.LastEnrichedAt = &now
	if e.State == StatePublished {
		e.HasUnpublishedChanges = true
		return nil
	}
	return e.Transition(StateEnriched)
}

// RecordEnrichment notes that enrichment mutated the entity without reaching
// the fully enriched bar. Published entities are flagged for republish.
func (e *Entity) RecordEnrichment() {
	now := Now()
	e.LastEnrichedAt = &now
	if e.State == StatePublished {
		e.HasUnpublishedChanges = true
	}
}

// MarkPublished records a successful publish with the descriptor hash that
// was written to the library.
func (e *Entity) MarkPublished(descriptorHash string) error {
	if err := e.Transition(StatePublished); err != nil {
		return err
	}
	now := Now()
	e.LastPublishedAt = &now
	e.PublishedDescriptorHash = descriptorHash
	e.HasUnpublishedChanges = false
	return nil
}

// Validate performs basic validation on the entity.
func (e *Entity) Validate() error {
	if e.Title == "" {
		return ErrEntityTitleRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the entity, applies the initial
// state, and generates a ULID.
func (e *Entity) BeforeCreate(tx *gorm.DB) error {
	if err := e.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if e.State == "" {
		e.State = StateDiscovered
	}
	return e.Validate()
}

// BeforeUpdate is a GORM hook that validates the entity before update.
func (e *Entity) BeforeUpdate(tx *gorm.DB) error {
	return e.Validate()
}
