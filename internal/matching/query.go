package matching

import (
	"strings"

	"github.com/congresssignal/backend/internal/storage/models"
)

// BuildSubscriptionQuery turns a free-tier profile into the query text that
// gets embedded. Empty profiles produce an empty string and the matcher's
// fallback takes over.
func BuildSubscriptionQuery(s *models.Subscription) string {
	var parts []string
	parts = append(parts, s.Sectors...)
	parts = append(parts, s.Keywords...)
	return strings.TrimSpace(strings.Join(parts, " "))
}

// BuildProQuery turns a pro profile into query text. Company type leads so
// it carries the most weight in the embedded query.
func BuildProQuery(s *models.ProSubscription) string {
	var parts []string
	if s.CompanyType != "" {
		parts = append(parts, s.CompanyType)
	}
	parts = append(parts, s.Keywords...)
	return strings.TrimSpace(strings.Join(parts, " "))
}
