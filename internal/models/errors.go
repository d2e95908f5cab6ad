package models

import (
	"errors"
	"fmt"
)

// Validation errors returned by model hooks.
var (
	// ErrJobTypeRequired indicates a job was created without a type.
	ErrJobTypeRequired = errors.New("job type is required")
	// ErrLibraryNameRequired indicates a library was created without a name.
	ErrLibraryNameRequired = errors.New("library name is required")
	// ErrLibraryRootRequired indicates a library was created without a root directory.
	ErrLibraryRootRequired = errors.New("library root directory is required")
	// ErrEntityTitleRequired indicates an entity was created without a title.
	ErrEntityTitleRequired = errors.New("entity title is required")
	// ErrWeightsMustSumToOne indicates selection scoring weights do not sum to 1.0.
	ErrWeightsMustSumToOne = errors.New("selection weights must sum to 1.0")
	// ErrInvalidCountRange indicates min_count exceeds max_count.
	ErrInvalidCountRange = errors.New("min_count must not exceed max_count")
	// ErrInvalidSimilarityThreshold indicates a similarity threshold outside [0,1].
	ErrInvalidSimilarityThreshold = errors.New("similarity threshold must be between 0.0 and 1.0")
)

// Workflow errors returned by services.
var (
	// ErrNotMonitored indicates an automated mutation was refused because the
	// entity or its library is unmonitored.
	ErrNotMonitored = errors.New("entity is not monitored")
	// ErrFieldLocked indicates an automated write targeted a locked field.
	ErrFieldLocked = errors.New("field is locked")
)

// StateTransitionError reports an illegal entity lifecycle transition.
type StateTransitionError struct {
	From EntityState
	To   EntityState
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// UnresolvedSelectionsError reports a publish attempt while selected asset
// candidates still lack cached content. Publishing is refused until every
// selection resolves to a content hash.
type UnresolvedSelectionsError struct {
	EntityID   ULID
	Unresolved []ULID
}

func (e *UnresolvedSelectionsError) Error() string {
	return fmt.Sprintf("entity %s has %d selected candidates without cached content", e.EntityID, len(e.Unresolved))
}

// IsUnresolvedSelections reports whether err is an UnresolvedSelectionsError.
func IsUnresolvedSelections(err error) bool {
	var target *UnresolvedSelectionsError
	return errors.As(err, &target)
}
