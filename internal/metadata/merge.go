package metadata

import "sort"

// DefaultRelevanceCap bounds how many template matches a document keeps.
const DefaultRelevanceCap = 20

// MergeRelevance folds incoming scores into an existing relevance list.
// Keyed by template slug, last writer wins per key, sorted by score
// descending, truncated to cap. Idempotent: merging the same incoming batch
// twice equals merging it once.
func MergeRelevance(existing, incoming []RelevanceEntry, cap int) []RelevanceEntry {
	if cap <= 0 {
		cap = DefaultRelevanceCap
	}

	byKey := make(map[string]RelevanceEntry, len(existing)+len(incoming))
	for _, e := range existing {
		byKey[e.TemplateSlug] = e
	}
	for _, e := range incoming {
		byKey[e.TemplateSlug] = e
	}

	merged := make([]RelevanceEntry, 0, len(byKey))
	for _, e := range byKey {
		merged = append(merged, e)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		// Stable order for equal scores so repeated merges agree.
		return merged[i].TemplateSlug < merged[j].TemplateSlug
	})

	if len(merged) > cap {
		merged = merged[:cap]
	}
	return merged
}
