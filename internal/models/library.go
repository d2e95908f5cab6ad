package models

import "gorm.io/gorm"

// LibraryKind identifies the media type a library holds.
type LibraryKind string

const (
	// LibraryKindMovies holds movie entities.
	LibraryKindMovies LibraryKind = "movies"
	// LibraryKindSeries holds series and episode entities.
	LibraryKindSeries LibraryKind = "series"
	// LibraryKindMusic holds album and track entities.
	LibraryKindMusic LibraryKind = "music"
)

// Library is a root directory of managed media. Entities belong to exactly
// one library; publish writes land under the library root.
type Library struct {
	BaseModel

	// Name is the unique display name.
	Name string `gorm:"not null;uniqueIndex;size:255" json:"name"`

	// RootDir is the absolute path to the library on disk.
	RootDir string `gorm:"not null;size:1024" json:"root_dir"`

	// Kind determines the entity kinds this library accepts.
	Kind LibraryKind `gorm:"not null;size:20;default:'movies'" json:"kind"`

	// Monitored gates all automated work for entities in this library.
	Monitored *bool `gorm:"default:true" json:"monitored"`

	// RequiredFields lists metadata fields that must be populated before an
	// entity counts as fully enriched.
	RequiredFields StringList `gorm:"type:text" json:"required_fields"`

	// RequiredAssetTypes lists asset types that must have resolved selections
	// before an entity counts as fully enriched.
	RequiredAssetTypes StringList `gorm:"type:text" json:"required_asset_types"`
}

// TableName returns the table name for Library.
func (Library) TableName() string {
	return "libraries"
}

// IsMonitored returns true if automated work is allowed for this library.
func (l *Library) IsMonitored() bool {
	return BoolVal(l.Monitored)
}

// Validate performs basic validation on the library.
func (l *Library) Validate() error {
	if l.Name == "" {
		return ErrLibraryNameRequired
	}
	if l.RootDir == "" {
		return ErrLibraryRootRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the library and generates a ULID.
func (l *Library) BeforeCreate(tx *gorm.DB) error {
	if err := l.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return l.Validate()
}

// BeforeUpdate is a GORM hook that validates the library before update.
func (l *Library) BeforeUpdate(tx *gorm.DB) error {
	return l.Validate()
}
