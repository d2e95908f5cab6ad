// Package provider defines the metadata provider abstraction and the gateway
// that aggregates multiple providers behind rate limits and circuit breakers.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/shelfarr/shelfarr/internal/models"
)

// ErrorKind classifies provider failures for retry and reporting decisions.
type ErrorKind string

const (
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindAuth        ErrorKind = "auth_error"
	ErrorKindUnavailable ErrorKind = "unavailable"
)

// Error is a typed provider failure. NotFound is a normal outcome during
// identification; the other kinds indicate the provider itself misbehaved.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a typed provider error.
func NewError(provider string, kind ErrorKind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// IsNotFound reports whether err is a provider not-found error.
func IsNotFound(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == ErrorKindNotFound
}

// EntityRef identifies an entity to a provider. ProviderIDs carries external
// identifiers from earlier identifications so providers can do exact lookups
// instead of title searches.
type EntityRef struct {
	Kind        models.EntityKind
	Title       string
	Year        int
	ProviderIDs map[string]string
}

// Metadata is the scalar metadata a provider returns for an entity.
type Metadata struct {
	ProviderID string
	Title      string
	SortTitle  string
	Year       int
	Overview   string
	Language   string
}

// Candidate is one asset offered by a provider.
type Candidate struct {
	AssetType   models.AssetType
	URL         string
	Width       int
	Height      int
	DurationSec int
	Votes       int
	VoteAverage float64
	Language    string
}

// Provider is a single metadata source.
type Provider interface {
	// Name returns the provider's unique name.
	Name() string

	// Identify matches the ref against the provider's catalog. Returns a
	// typed not-found error when no confident match exists.
	Identify(ctx context.Context, ref EntityRef) (*Metadata, error)

	// Candidates returns the assets the provider offers for the ref, limited
	// to the requested asset types.
	Candidates(ctx context.Context, ref EntityRef, assetTypes []models.AssetType) ([]Candidate, error)
}
