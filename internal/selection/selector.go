package selection

import (
	"sort"

	"github.com/shelfarr/shelfarr/internal/models"
)

// Result describes the outcome of one selection run for an asset slot.
type Result struct {
	// Selected holds the chosen candidates, best first.
	Selected []*models.AssetCandidate

	// Dropped holds candidates excluded as near-duplicates of a selected one.
	Dropped []*models.AssetCandidate

	// Shortfall is how many selections are missing against MinCount.
	Shortfall int
}

// Select runs automatic selection over the candidates of one asset slot.
// Every selectable candidate is scored (AutoScore is updated in place), then
// candidates are taken best-first, skipping near-duplicates of already
// selected ones, until MaxCount is reached. The ordering is fully
// deterministic: score, then provider trust rank, then discovery order.
//
// Select does not mutate IsSelected; the caller applies the result so it can
// diff against current selections and manage cache references.
func Select(candidates []*models.AssetCandidate, cfg *models.SelectionConfig) *Result {
	eligible := make([]*models.AssetCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Selectable() {
			continue
		}
		if undersized(c, cfg) {
			continue
		}
		c.AutoScore = Score(c, cfg)
		eligible = append(eligible, c)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.AutoScore != b.AutoScore {
			return a.AutoScore > b.AutoScore
		}
		ra, rb := cfg.ProviderRank(a.Provider), cfg.ProviderRank(b.Provider)
		if ra != rb {
			return ra < rb
		}
		return a.DiscoveryOrder < b.DiscoveryOrder
	})

	result := &Result{}
	for _, c := range eligible {
		if len(result.Selected) >= cfg.MaxCount {
			break
		}
		if dup := duplicateOf(c, result.Selected, cfg.SimilarityThreshold); dup != nil {
			result.Dropped = append(result.Dropped, c)
			continue
		}
		result.Selected = append(result.Selected, c)
	}

	if len(result.Selected) < cfg.MinCount {
		result.Shortfall = cfg.MinCount - len(result.Selected)
	}

	return result
}

// undersized reports whether the candidate falls below the configured
// dimension floor. Candidates with unknown dimensions pass; they are scored
// low instead of being excluded.
func undersized(c *models.AssetCandidate, cfg *models.SelectionConfig) bool {
	if c.Width == 0 && c.Height == 0 {
		return false
	}
	if cfg.MinWidth > 0 && c.Width < cfg.MinWidth {
		return true
	}
	if cfg.MinHeight > 0 && c.Height < cfg.MinHeight {
		return true
	}
	return false
}

// duplicateOf returns the already selected candidate that c is a
// near-duplicate of, or nil. A zero threshold disables deduplication.
func duplicateOf(c *models.AssetCandidate, picked []*models.AssetCandidate, threshold float64) *models.AssetCandidate {
	if threshold <= 0 {
		return nil
	}
	for _, p := range picked {
		if Similarity(c.PerceptualHash, p.PerceptualHash) >= threshold {
			return p
		}
	}
	return nil
}
