// Package selection implements candidate scoring, perceptual deduplication,
// and automatic selection for asset slots.
package selection

import (
	"math"

	"golang.org/x/text/language"

	"github.com/shelfarr/shelfarr/internal/models"
)

// referencePixels is the pixel area that earns a full resolution sub-score.
// Anything at or above 1080p scores 1.0.
const referencePixels = 1920 * 1080

// voteSaturation dampens vote counts: a candidate with this many votes gets
// half of its rating-based score credited for confidence.
const voteSaturation = 25.0

// Score computes the weighted score of a candidate under a config. All
// sub-scores are clamped to [0, 1] so the result is comparable across
// candidates regardless of provider metadata quality.
func Score(c *models.AssetCandidate, cfg *models.SelectionConfig) float64 {
	score := cfg.WeightResolution*resolutionScore(c) +
		cfg.WeightVotes*voteScore(c) +
		cfg.WeightLanguage*languageScore(c.Language, cfg.PreferredLanguage, cfg.FallbackLanguage) +
		cfg.WeightProvider*providerScore(c.Provider, cfg)

	return math.Min(1.0, math.Max(0.0, score))
}

// resolutionScore scales linearly with pixel area up to the reference area.
// Unknown dimensions score zero rather than being rejected; the dimension
// floor is enforced separately by the selector.
func resolutionScore(c *models.AssetCandidate) float64 {
	pixels := c.Pixels()
	if pixels <= 0 {
		return 0
	}
	return math.Min(1.0, float64(pixels)/referencePixels)
}

// voteScore combines the average rating with a confidence factor derived
// from the vote count, so a 9.0 from three votes does not beat an 8.0 from
// three thousand.
func voteScore(c *models.AssetCandidate) float64 {
	if c.Votes <= 0 || c.VoteAverage <= 0 {
		return 0
	}
	rating := math.Min(1.0, c.VoteAverage/10.0)
	confidence := float64(c.Votes) / (float64(c.Votes) + voteSaturation)
	return rating * confidence
}

// languageScore matches the candidate language against the preferred and
// fallback tags. An exact or base-language match of the preferred tag scores
// 1.0, the fallback tag scores 0.5, any recognized language scores 0.25, and
// an undetermined language scores zero.
func languageScore(candidate, preferred, fallback string) float64 {
	if candidate == "" {
		return 0
	}
	candTag, err := language.Parse(candidate)
	if err != nil {
		return 0
	}

	if matchesBase(candTag, preferred) {
		return 1.0
	}
	if matchesBase(candTag, fallback) {
		return 0.5
	}
	return 0.25
}

// matchesBase reports whether tag and the parsed want share a base language.
func matchesBase(tag language.Tag, want string) bool {
	if want == "" {
		return false
	}
	wantTag, err := language.Parse(want)
	if err != nil {
		return false
	}
	tagBase, confA := tag.Base()
	wantBase, confB := wantTag.Base()
	if confA == language.No || confB == language.No {
		return false
	}
	return tagBase == wantBase
}

// providerScore rewards providers near the front of the trust order. With no
// configured order every provider scores the same neutral value.
func providerScore(provider string, cfg *models.SelectionConfig) float64 {
	n := len(cfg.ProviderOrder)
	if n == 0 {
		return 0.5
	}
	rank := cfg.ProviderRank(provider)
	return 1.0 - float64(rank)/float64(n)
}
