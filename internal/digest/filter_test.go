package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/congresssignal/backend/internal/storage/models"
)

func candidates() []models.Extraction {
	return []models.Extraction{
		{ID: 1, Sectors: []string{"tech"}, Relevance: models.RelevanceHigh},
		{ID: 2, Sectors: []string{"finance"}, Relevance: models.RelevanceMedium},
		{ID: 3, Sectors: []string{"energy"}, Relevance: models.RelevanceLow},
		{ID: 4, Sectors: nil, Relevance: models.RelevanceHigh},
		{ID: 5, Sectors: []string{"tech"}, Relevance: ""},
	}
}

func TestFilterEmptySectorSetMatchesAll(t *testing.T) {
	kept := Filter(candidates(), Profile{Threshold: models.RelevanceMedium})

	ids := keptIDs(kept)
	assert.Equal(t, []int64{1, 2, 4}, ids, "every candidate at or above threshold passes")
}

func TestFilterSectorOverlap(t *testing.T) {
	kept := Filter(candidates(), Profile{
		Sectors:   []string{"tech", "energy"},
		Threshold: models.RelevanceLow,
	})

	assert.Equal(t, []int64{1, 3}, keptIDs(kept))
}

func TestFilterRelevanceThreshold(t *testing.T) {
	kept := Filter(candidates(), Profile{Threshold: models.RelevanceHigh})
	assert.Equal(t, []int64{1, 4}, keptIDs(kept))

	// Medium candidate never clears a high threshold.
	kept = Filter([]models.Extraction{
		{ID: 2, Relevance: models.RelevanceMedium},
	}, Profile{Threshold: models.RelevanceHigh})
	assert.Empty(t, kept)
}

func TestFilterMissingRelevanceAlwaysExcluded(t *testing.T) {
	kept := Filter(candidates(), Profile{Threshold: models.RelevanceLow})
	assert.NotContains(t, keptIDs(kept), int64(5), "rank 0 never clears a real threshold")
}

func TestFilterPreservesOrder(t *testing.T) {
	input := []models.Extraction{
		{ID: 3, Relevance: models.RelevanceHigh},
		{ID: 1, Relevance: models.RelevanceHigh},
		{ID: 2, Relevance: models.RelevanceHigh},
	}
	kept := Filter(input, Profile{Threshold: models.RelevanceLow})
	assert.Equal(t, []int64{3, 1, 2}, keptIDs(kept))
}

func TestFromSubscriptionDefaultsThresholdToMedium(t *testing.T) {
	p := FromSubscription(&models.Subscription{})
	assert.Equal(t, models.RelevanceMedium, p.Threshold)

	p = FromSubscription(&models.Subscription{RelevanceThreshold: models.RelevanceLow})
	assert.Equal(t, models.RelevanceLow, p.Threshold)
}

func TestMatchedKeywords(t *testing.T) {
	e := &models.Extraction{
		Title:     "Defense appropriations for fiscal year 2027",
		Summary:   "Raises procurement budgets across the armed services.",
		Companies: []string{"Acme Corp"},
	}

	hits := MatchedKeywords(e, []string{"procurement", "tariffs", "Defense"})
	assert.Equal(t, []string{"procurement", "Defense"}, hits)

	assert.Nil(t, MatchedKeywords(e, nil))
}

func keptIDs(kept []models.Extraction) []int64 {
	ids := make([]int64, 0, len(kept))
	for _, e := range kept {
		ids = append(ids, e.ID)
	}
	return ids
}
