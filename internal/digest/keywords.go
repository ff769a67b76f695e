package digest

import (
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/congresssignal/backend/internal/storage/models"
)

// MatchedKeywords reports which of the profile's keywords occur in the
// extraction's title, summary, or company mentions. Matching is on
// lowercased tokens, so "Defense" hits "defense spending" but not
// "defenseless".
func MatchedKeywords(e *models.Extraction, keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(e.Title)
	sb.WriteString(" ")
	sb.WriteString(e.Summary)
	for _, c := range e.Companies {
		sb.WriteString(" ")
		sb.WriteString(c)
	}

	tokens := tokenSet(sb.String())
	var hits []string
	for _, kw := range keywords {
		if keywordHits(kw, tokens) {
			hits = append(hits, kw)
		}
	}
	return hits
}

// MatchesKeywords reports whether the extraction hits at least one of the
// profile's keywords. An empty keyword list matches everything.
func MatchesKeywords(e *models.Extraction, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	return len(MatchedKeywords(e, keywords)) > 0
}

// keywordHits tests a keyword, possibly multi-word, against the token set.
// Every word of the keyword must be present.
func keywordHits(keyword string, tokens map[string]bool) bool {
	words := strings.Fields(strings.ToLower(keyword))
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !tokens[w] {
			return false
		}
	}
	return true
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		// Degrade to whitespace splitting rather than losing annotations.
		for _, f := range strings.Fields(text) {
			set[strings.ToLower(f)] = true
		}
		return set
	}
	for _, tok := range doc.Tokens() {
		set[strings.ToLower(tok.Text)] = true
	}
	return set
}
