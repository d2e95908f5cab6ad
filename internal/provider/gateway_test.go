package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfarr/shelfarr/internal/fetch"
	"github.com/shelfarr/shelfarr/internal/models"
)

// fakeProvider is a scriptable Provider for gateway tests.
type fakeProvider struct {
	name          string
	identifyMeta  *Metadata
	identifyErr   error
	candidates    []Candidate
	candidatesErr error
	identifyCalls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Identify(ctx context.Context, ref EntityRef) (*Metadata, error) {
	f.identifyCalls++
	if f.identifyErr != nil {
		return nil, f.identifyErr
	}
	return f.identifyMeta, nil
}

func (f *fakeProvider) Candidates(ctx context.Context, ref EntityRef, assetTypes []models.AssetType) ([]Candidate, error) {
	if f.candidatesErr != nil {
		return nil, f.candidatesErr
	}
	return f.candidates, nil
}

func register(t *testing.T, g *Gateway, p Provider) {
	t.Helper()
	require.NoError(t, g.Register(p, 1000, 1000, nil))
}

func TestGateway_Identify_FirstMatchWins(t *testing.T) {
	first := &fakeProvider{
		name:        "tmdb",
		identifyErr: NewError("tmdb", ErrorKindNotFound, nil),
	}
	second := &fakeProvider{
		name:         "tvdb",
		identifyMeta: &Metadata{ProviderID: "42", Title: "The Thing", Year: 1982},
	}
	third := &fakeProvider{
		name:         "fanarttv",
		identifyMeta: &Metadata{ProviderID: "99", Title: "Wrong"},
	}

	g := NewGateway()
	register(t, g, first)
	register(t, g, second)
	register(t, g, third)

	meta, name, err := g.Identify(context.Background(), EntityRef{Title: "The Thing", Year: 1982})
	require.NoError(t, err)
	assert.Equal(t, "tvdb", name)
	assert.Equal(t, "42", meta.ProviderID)
	assert.Equal(t, 0, third.identifyCalls, "later providers are not consulted after a match")
}

func TestGateway_Identify_NotFoundEverywhere(t *testing.T) {
	g := NewGateway()
	register(t, g, &fakeProvider{name: "tmdb", identifyErr: NewError("tmdb", ErrorKindNotFound, nil)})

	_, _, err := g.Identify(context.Background(), EntityRef{Title: "Unknown"})
	assert.True(t, IsNotFound(err))
}

func TestGateway_Identify_NoProviders(t *testing.T) {
	g := NewGateway()
	_, _, err := g.Identify(context.Background(), EntityRef{Title: "Anything"})
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestGateway_Identify_SkipsOpenCircuit(t *testing.T) {
	failing := &fakeProvider{
		name:        "tmdb",
		identifyErr: NewError("tmdb", ErrorKindTimeout, errors.New("deadline exceeded")),
	}
	healthy := &fakeProvider{
		name:         "tvdb",
		identifyMeta: &Metadata{ProviderID: "7", Title: "Alien"},
	}

	g := NewGateway()
	breaker := fetch.NewCircuitBreaker(1, time.Hour, 1)
	require.NoError(t, g.Register(failing, 1000, 1000, breaker))
	register(t, g, healthy)

	// First call trips the failing provider's breaker
	_, name, err := g.Identify(context.Background(), EntityRef{Title: "Alien"})
	require.NoError(t, err)
	assert.Equal(t, "tvdb", name)
	assert.Equal(t, 1, failing.identifyCalls)

	// Second call skips it entirely
	_, _, err = g.Identify(context.Background(), EntityRef{Title: "Alien"})
	require.NoError(t, err)
	assert.Equal(t, 1, failing.identifyCalls)
	assert.Equal(t, fetch.CircuitOpen, breaker.State())
}

func TestGateway_Candidates_Aggregates(t *testing.T) {
	g := NewGateway()
	register(t, g, &fakeProvider{
		name: "tmdb",
		candidates: []Candidate{
			{AssetType: models.AssetTypePoster, URL: "https://tmdb/poster1.jpg"},
			{AssetType: models.AssetTypeFanart, URL: "https://tmdb/fanart1.jpg"},
		},
	})
	register(t, g, &fakeProvider{
		name: "fanarttv",
		candidates: []Candidate{
			{AssetType: models.AssetTypePoster, URL: "https://fanarttv/poster2.jpg"},
		},
	})

	set, err := g.Candidates(context.Background(), EntityRef{Title: "Alien"}, []models.AssetType{models.AssetTypePoster, models.AssetTypeFanart})
	require.NoError(t, err)
	require.Len(t, set.Candidates, 3)
	assert.Empty(t, set.Failed)

	// Trust order is preserved
	assert.Equal(t, "tmdb", set.Candidates[0].Provider)
	assert.Equal(t, "fanarttv", set.Candidates[2].Provider)
}

func TestGateway_Candidates_PartialFailure(t *testing.T) {
	g := NewGateway()
	register(t, g, &fakeProvider{
		name:          "tmdb",
		candidatesErr: NewError("tmdb", ErrorKindUnavailable, errors.New("503")),
	})
	register(t, g, &fakeProvider{
		name: "fanarttv",
		candidates: []Candidate{
			{AssetType: models.AssetTypePoster, URL: "https://fanarttv/poster.jpg"},
		},
	})

	set, err := g.Candidates(context.Background(), EntityRef{Title: "Alien"}, nil)
	require.NoError(t, err)
	require.Len(t, set.Candidates, 1)
	assert.Equal(t, []string{"tmdb"}, set.Failed)
}

func TestGateway_Candidates_AllFail(t *testing.T) {
	g := NewGateway()
	register(t, g, &fakeProvider{
		name:          "tmdb",
		candidatesErr: NewError("tmdb", ErrorKindUnavailable, errors.New("503")),
	})

	_, err := g.Candidates(context.Background(), EntityRef{Title: "Alien"}, nil)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestGateway_RegisterDuplicate(t *testing.T) {
	g := NewGateway()
	register(t, g, &fakeProvider{name: "tmdb"})
	assert.Error(t, g.Register(&fakeProvider{name: "tmdb"}, 1, 1, nil))
}

func TestProviderError(t *testing.T) {
	inner := errors.New("boom")
	err := NewError("tmdb", ErrorKindAuth, inner)

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "tmdb")
	assert.Contains(t, err.Error(), "auth_error")
	assert.False(t, IsNotFound(err))
}
