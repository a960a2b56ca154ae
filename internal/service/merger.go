package service

import (
	"math"
	"sort"

	"github.com/derm-diagnosis-server/internal/domain"
)

// maxListEntries caps the merged key-feature and recommendation lists.
const maxListEntries = 8

// mergeEntry tracks one candidate diagnosis while merging provider lists.
type mergeEntry struct {
	diagnosis domain.Diagnosis
	sources   []domain.Provider
	order     int // first-appearance position, Gemini list before OpenAI-only items
}

// MergeDiagnoses combines the normalized lists from both providers into a
// single ranked list. Diagnoses are matched by case-insensitive,
// whitespace-collapsed name. Matched entries take the arithmetic mean of the
// two confidences (rounded half away from zero); textual fields come from the
// higher-confidence provider; feature and recommendation lists are unioned
// Gemini-first and capped. Unmatched entries carry through unchanged with a
// single source. A name listed twice by the same provider collapses into one
// entry. The result is sorted by confidence descending, ties broken by first
// appearance, and ranked 1..N.
func MergeDiagnoses(gemini, openai []domain.Diagnosis) []domain.FinalDiagnosis {
	entries := make([]*mergeEntry, 0, len(gemini)+len(openai))
	byKey := make(map[string]*mergeEntry, len(gemini))

	insert := func(d domain.Diagnosis, p domain.Provider) {
		key := nameKey(d.Name)
		e, ok := byKey[key]
		if !ok {
			e = &mergeEntry{diagnosis: d, sources: []domain.Provider{p}, order: len(entries)}
			entries = append(entries, e)
			byKey[key] = e
			return
		}
		// A provider repeating a name it already listed collapses into the
		// existing entry; a cross-provider match is a true consensus merge.
		if hasSource(e.sources, p) {
			e.diagnosis = absorb(e.diagnosis, d)
			return
		}
		e.diagnosis = combine(e.diagnosis, d)
		e.sources = append(e.sources, p)
	}

	for _, d := range gemini {
		insert(d, domain.ProviderGemini)
	}
	for _, d := range openai {
		insert(d, domain.ProviderOpenAI)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].diagnosis.Confidence != entries[j].diagnosis.Confidence {
			return entries[i].diagnosis.Confidence > entries[j].diagnosis.Confidence
		}
		return entries[i].order < entries[j].order
	})

	final := make([]domain.FinalDiagnosis, len(entries))
	for i, e := range entries {
		final[i] = domain.FinalDiagnosis{
			Rank:            i + 1,
			Name:            e.diagnosis.Name,
			Confidence:      e.diagnosis.Confidence,
			Description:     e.diagnosis.Description,
			KeyFeatures:     e.diagnosis.KeyFeatures,
			Recommendations: e.diagnosis.Recommendations,
			IsUrgent:        e.diagnosis.Urgent,
			Sources:         e.sources,
		}
	}
	return final
}

// combine merges an OpenAI entry into its matching Gemini entry. The Gemini
// entry's name casing is kept for display.
func combine(g, o domain.Diagnosis) domain.Diagnosis {
	merged := domain.Diagnosis{
		Name:       g.Name,
		Confidence: int(math.Round(float64(g.Confidence+o.Confidence) / 2)),
		Urgent:     g.Urgent || o.Urgent,
	}

	// Prose fields follow the provider that was more confident. On a tie the
	// Gemini wording wins.
	preferred := g
	if o.Confidence > g.Confidence {
		preferred = o
	}
	merged.Description = preferred.Description
	if merged.Description == "" {
		merged.Description = other(preferred, g, o).Description
	}

	merged.KeyFeatures = unionCapped(g.KeyFeatures, o.KeyFeatures)
	merged.Recommendations = unionCapped(g.Recommendations, o.Recommendations)
	return merged
}

// absorb collapses a duplicate listed twice by the same provider. The more
// confident occurrence wins wholesale rather than averaging: the provider is
// repeating itself, not corroborating another model.
func absorb(a, b domain.Diagnosis) domain.Diagnosis {
	hi, lo := a, b
	if b.Confidence > a.Confidence {
		hi, lo = b, a
	}
	merged := hi
	merged.Urgent = a.Urgent || b.Urgent
	if merged.Description == "" {
		merged.Description = lo.Description
	}
	merged.KeyFeatures = unionCapped(hi.KeyFeatures, lo.KeyFeatures)
	merged.Recommendations = unionCapped(hi.Recommendations, lo.Recommendations)
	return merged
}

func hasSource(sources []domain.Provider, p domain.Provider) bool {
	for _, s := range sources {
		if s == p {
			return true
		}
	}
	return false
}

func other(preferred, a, b domain.Diagnosis) domain.Diagnosis {
	if preferred.Name == a.Name && preferred.Confidence == a.Confidence {
		return b
	}
	return a
}

// unionCapped merges two string lists preserving order, first list first,
// deduplicating case-insensitively and capping the result.
func unionCapped(first, second []string) []string {
	seen := make(map[string]bool, len(first)+len(second))
	out := make([]string, 0, maxListEntries)
	for _, list := range [][]string{first, second} {
		for _, item := range list {
			key := nameKey(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
			if len(out) == maxListEntries {
				return out
			}
		}
	}
	return out
}
