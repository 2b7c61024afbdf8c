package vision

import (
	"cmp"
	"slices"
)

// IoU returns the intersection-over-union of two matches.
func IoU(a, b MatchResult) float64 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0
	}

	interArea := inter.Dx() * inter.Dy()
	union := a.Width*a.Height + b.Width*b.Height - interArea
	if union <= 0 {
		return 0
	}

	return float64(interArea) / float64(union)
}

// NonMaxSuppression keeps the highest scoring candidates, discarding any whose
// IoU with an already kept candidate reaches threshold. Ties keep input order.
func NonMaxSuppression(candidates []MatchResult, threshold float64) []MatchResult {
	if len(candidates) == 0 {
		return nil
	}

	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b MatchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})

	kept := make([]MatchResult, 0, len(sorted))
	for _, c := range sorted {
		keep := true
		for _, k := range kept {
			if IoU(c, k) >= threshold {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, c)
		}
	}

	return kept
}
