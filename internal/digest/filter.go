package digest

import (
	"github.com/congresssignal/backend/internal/storage/models"
)

// Profile is the filtering view of a subscription, free or pro.
type Profile struct {
	Sectors   []string
	Threshold models.Relevance
	Keywords  []string
}

func FromSubscription(s *models.Subscription) Profile {
	threshold := s.RelevanceThreshold
	if !threshold.Valid() {
		threshold = models.RelevanceMedium
	}
	return Profile{
		Sectors:   s.Sectors,
		Threshold: threshold,
		Keywords:  s.Keywords,
	}
}

// FromProSubscription builds a profile without a sector restriction; pro
// interest is expressed through the semantic query, not sector tags.
func FromProSubscription(s *models.ProSubscription) Profile {
	return Profile{
		Threshold: models.RelevanceMedium,
		Keywords:  s.Keywords,
	}
}

// Filter keeps candidates that pass both profile predicates: sector overlap
// (an empty profile sector set matches everything) and relevance threshold.
// A candidate with no relevance ranks 0 and never clears a real threshold.
// Pure and order-preserving.
func Filter(candidates []models.Extraction, profile Profile) []models.Extraction {
	out := make([]models.Extraction, 0, len(candidates))
	for _, c := range candidates {
		if !sectorOverlap(c.Sectors, profile.Sectors) {
			continue
		}
		if c.Relevance.Rank() < profile.Threshold.Rank() {
			continue
		}
		out = append(out, c)
	}
	return out
}

func sectorOverlap(candidate, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, c := range candidate {
		for _, w := range wanted {
			if c == w {
				return true
			}
		}
	}
	return false
}
