package selection

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfarr/shelfarr/internal/models"
)

func defaultConfig() *models.SelectionConfig {
	return &models.SelectionConfig{
		MinCount:            1,
		MaxCount:            1,
		PreferredLanguage:   "en",
		FallbackLanguage:    "de",
		WeightResolution:    0.4,
		WeightVotes:         0.3,
		WeightLanguage:      0.2,
		WeightProvider:      0.1,
		SimilarityThreshold: 0.92,
		ProviderOrder:       models.StringList{"tmdb", "fanarttv"},
	}
}

func TestScore_Resolution(t *testing.T) {
	cfg := defaultConfig()
	cfg.WeightResolution = 1.0
	cfg.WeightVotes = 0
	cfg.WeightLanguage = 0
	cfg.WeightProvider = 0

	full := &models.AssetCandidate{Width: 1920, Height: 1080}
	half := &models.AssetCandidate{Width: 1920, Height: 540}
	huge := &models.AssetCandidate{Width: 3840, Height: 2160}
	unknown := &models.AssetCandidate{}

	assert.InDelta(t, 1.0, Score(full, cfg), 1e-9)
	assert.InDelta(t, 0.5, Score(half, cfg), 1e-9)
	assert.InDelta(t, 1.0, Score(huge, cfg), 1e-9, "resolution saturates at the reference area")
	assert.InDelta(t, 0.0, Score(unknown, cfg), 1e-9)
}

func TestScore_VotesConfidence(t *testing.T) {
	cfg := defaultConfig()
	cfg.WeightResolution = 0
	cfg.WeightVotes = 1.0
	cfg.WeightLanguage = 0
	cfg.WeightProvider = 0

	fewVotes := &models.AssetCandidate{Votes: 3, VoteAverage: 9.0}
	manyVotes := &models.AssetCandidate{Votes: 3000, VoteAverage: 8.0}

	assert.Greater(t, Score(manyVotes, cfg), Score(fewVotes, cfg),
		"a well-voted 8.0 beats a barely-voted 9.0")
}

func TestScore_Language(t *testing.T) {
	assert.InDelta(t, 1.0, languageScore("en", "en", "de"), 1e-9)
	assert.InDelta(t, 1.0, languageScore("en-US", "en", "de"), 1e-9, "base language matches")
	assert.InDelta(t, 0.5, languageScore("de", "en", "de"), 1e-9)
	assert.InDelta(t, 0.25, languageScore("fr", "en", "de"), 1e-9)
	assert.InDelta(t, 0.0, languageScore("", "en", "de"), 1e-9)
}

func TestScore_Provider(t *testing.T) {
	cfg := defaultConfig()

	assert.InDelta(t, 1.0, providerScore("tmdb", cfg), 1e-9)
	assert.InDelta(t, 0.5, providerScore("fanarttv", cfg), 1e-9)
	assert.InDelta(t, 0.0, providerScore("unlisted", cfg), 1e-9)

	cfg.ProviderOrder = nil
	assert.InDelta(t, 0.5, providerScore("anything", cfg), 1e-9)
}

func TestSelect_PicksHighestScored(t *testing.T) {
	cfg := defaultConfig()

	candidates := []*models.AssetCandidate{
		{Provider: "fanarttv", Width: 1000, Height: 1500, Language: "en", DiscoveryOrder: 0},
		{Provider: "tmdb", Width: 2000, Height: 3000, Language: "en", DiscoveryOrder: 1},
		{Provider: "tmdb", Width: 500, Height: 750, Language: "fr", DiscoveryOrder: 2},
	}

	result := Select(candidates, cfg)
	require.Len(t, result.Selected, 1)
	assert.Equal(t, 1, result.Selected[0].DiscoveryOrder)
	assert.Equal(t, 0, result.Shortfall)
}

func TestSelect_SkipsRejectedAndFailed(t *testing.T) {
	cfg := defaultConfig()

	candidates := []*models.AssetCandidate{
		{Provider: "tmdb", Width: 2000, Height: 3000, Language: "en", IsRejected: true},
		{Provider: "tmdb", Width: 2000, Height: 3000, Language: "en", DownloadFailed: true},
		{Provider: "fanarttv", Width: 1000, Height: 1500, Language: "en", DiscoveryOrder: 5},
	}

	result := Select(candidates, cfg)
	require.Len(t, result.Selected, 1)
	assert.Equal(t, 5, result.Selected[0].DiscoveryOrder)
}

func TestSelect_DimensionFloor(t *testing.T) {
	cfg := defaultConfig()
	cfg.MinWidth = 1000
	cfg.MinHeight = 1500

	candidates := []*models.AssetCandidate{
		{Provider: "tmdb", Width: 500, Height: 750, Language: "en"},
		{Provider: "tmdb", Language: "en", DiscoveryOrder: 1},
	}

	result := Select(candidates, cfg)
	require.Len(t, result.Selected, 1)
	assert.Equal(t, 1, result.Selected[0].DiscoveryOrder, "unknown dimensions pass the floor")
}

func TestSelect_DeterministicTieBreak(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxCount = 2

	// Identical metadata: provider rank then discovery order decide
	make3 := func(provider string, order int) *models.AssetCandidate {
		return &models.AssetCandidate{
			Provider: provider, Width: 1000, Height: 1500,
			Language: "en", DiscoveryOrder: order,
		}
	}

	candidates := []*models.AssetCandidate{
		make3("fanarttv", 0),
		make3("fanarttv", 3),
		make3("tmdb", 7),
	}

	for i := 0; i < 5; i++ {
		result := Select(candidates, cfg)
		require.Len(t, result.Selected, 2)
		assert.Equal(t, "tmdb", result.Selected[0].Provider)
		assert.Equal(t, 0, result.Selected[1].DiscoveryOrder)
	}
}

func TestSelect_DeduplicatesByPerceptualHash(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxCount = 2

	candidates := []*models.AssetCandidate{
		{Provider: "tmdb", Width: 2000, Height: 3000, Language: "en", PerceptualHash: 0xFFFF0000FFFF0000, DiscoveryOrder: 0},
		// One bit different: a near-duplicate of the first
		{Provider: "fanarttv", Width: 1900, Height: 2850, Language: "en", PerceptualHash: 0xFFFF0000FFFF0001, DiscoveryOrder: 1},
		{Provider: "fanarttv", Width: 1000, Height: 1500, Language: "en", PerceptualHash: 0x00FF00FF00FF00FF, DiscoveryOrder: 2},
	}

	result := Select(candidates, cfg)
	require.Len(t, result.Selected, 2)
	assert.Equal(t, 0, result.Selected[0].DiscoveryOrder)
	assert.Equal(t, 2, result.Selected[1].DiscoveryOrder)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, 1, result.Dropped[0].DiscoveryOrder)
}

func TestSelect_Shortfall(t *testing.T) {
	cfg := defaultConfig()
	cfg.MinCount = 3
	cfg.MaxCount = 5

	candidates := []*models.AssetCandidate{
		{Provider: "tmdb", Width: 1000, Height: 1500, Language: "en"},
	}

	result := Select(candidates, cfg)
	assert.Len(t, result.Selected, 1)
	assert.Equal(t, 2, result.Shortfall)
}

func TestPerceptualHash(t *testing.T) {
	// Brightness falls left to right so every gradient bit is set; the hash
	// is nonzero and stable across sizes
	gradient := func(w, h int) []byte {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := uint8(255 - x*255/w)
				img.Set(x, y, color.RGBA{v, v, v, 255})
			}
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		return buf.Bytes()
	}

	big, err := PerceptualHash(bytes.NewReader(gradient(400, 600)))
	require.NoError(t, err)
	small, err := PerceptualHash(bytes.NewReader(gradient(100, 150)))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, Similarity(big, small), 0.9,
		"the same image at different sizes hashes nearly identically")

	// Alternating bright and dark columns produce a very different bit
	// pattern from the smooth gradient
	stripes := func(w, h int) []byte {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := uint8(255)
				if (x/(w/9))%2 == 1 {
					v = 0
				}
				img.Set(x, y, color.RGBA{v, v, v, 255})
			}
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		return buf.Bytes()
	}

	other, err := PerceptualHash(bytes.NewReader(stripes(405, 600)))
	require.NoError(t, err)
	assert.Less(t, Similarity(big, other), 0.8)
}

func TestSimilarity_ZeroHashesNeverMatch(t *testing.T) {
	assert.Equal(t, 0.0, Similarity(0, 0))
	assert.Equal(t, 0.0, Similarity(0, 0xFFFF))
}
