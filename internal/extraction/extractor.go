package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/congresssignal/backend/internal/storage/models"
)

// maxContentChars bounds the scraped text handed to the model so one huge
// bill text cannot blow the context window.
const maxContentChars = 12000

type jsonCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// DocumentExtractor fetches a publication's HTML rendition, strips it to
// plain text, and asks the model for structured signals.
type DocumentExtractor struct {
	llm        jsonCompleter
	httpClient *http.Client
}

func NewDocumentExtractor(llm jsonCompleter, timeoutSeconds int) *DocumentExtractor {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &DocumentExtractor{
		llm: llm,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

func (d *DocumentExtractor) Extract(ctx context.Context, htmlURL string) (*Payload, string, error) {
	content, err := d.fetchText(ctx, htmlURL)
	if err != nil {
		return nil, "", err
	}

	prompt := fmt.Sprintf(extractionPromptTemplate,
		strings.Join(models.KnownSectors, ", "),
		content,
	)

	raw, err := d.llm.CompleteJSON(ctx, extractionSystemPrompt, prompt)
	if err != nil {
		return nil, "", fmt.Errorf("model call failed: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, "", fmt.Errorf("unparseable model payload: %w", err)
	}
	return &payload, raw, nil
}

// Summarize produces a subscriber-tailored briefing for a single document.
func (d *DocumentExtractor) Summarize(ctx context.Context, htmlURL, companyType string, keywords []string) (string, error) {
	content, err := d.fetchText(ctx, htmlURL)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(tailoredPromptTemplate,
		companyType,
		strings.Join(keywords, ", "),
		content,
	)

	raw, err := d.llm.CompleteJSON(ctx, tailoredSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}

	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("unparseable model payload: %w", err)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return "", fmt.Errorf("model returned empty summary")
	}
	return out.Summary, nil
}

func (d *DocumentExtractor) fetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "congress-signal/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("document fetch returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, nav, header, footer, noscript").Remove()

	text := strings.Join(strings.Fields(doc.Text()), " ")
	if len(text) > maxContentChars {
		text = text[:maxContentChars]
	}
	if text == "" {
		return "", fmt.Errorf("document body is empty")
	}
	return text, nil
}
