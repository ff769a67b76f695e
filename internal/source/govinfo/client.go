package govinfo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/congresssignal/backend/internal/storage/models"
	"github.com/congresssignal/backend/pkg/logger"
)

const (
	searchPath = "/wssearch/search"
	// pagePause spaces out search requests so re-crawls stay polite.
	pagePause = 500 * time.Millisecond
)

// Client fetches publication metadata from the govinfo search API.
type Client struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
}

func NewClient(baseURL string, pageSize, timeoutSec int) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	return &Client{
		baseURL:  baseURL,
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
	}
}

type searchRequest struct {
	Query      string `json:"query"`
	Offset     int    `json:"offset"`
	PageSize   int    `json:"pageSize"`
	Historical bool   `json:"historical"`
	SortBy     string `json:"sortBy"`
}

type searchResponse struct {
	TotalCount int `json:"iTotalCount"`
	ResultSet  []struct {
		Line1    string            `json:"line1"`
		Line2    string            `json:"line2"`
		FieldMap map[string]string `json:"fieldMap"`
	} `json:"resultSet"`
}

// FetchRange pulls every document published in [startDate, endDate], paging
// through the search API. Dates are YYYY-MM-DD.
func (c *Client) FetchRange(ctx context.Context, startDate, endDate string) ([]models.RawDocument, error) {
	var docs []models.RawDocument
	offset := 0
	total := -1

	for {
		page, err := c.fetchPage(ctx, startDate, endDate, offset)
		if err != nil {
			return nil, err
		}

		if total < 0 {
			total = page.TotalCount
			logger.Info("Source reported total documents",
				zap.String("start", startDate),
				zap.String("end", endDate),
				zap.Int("total", total),
			)
		}

		if len(page.ResultSet) == 0 {
			break
		}

		for _, result := range page.ResultSet {
			docs = append(docs, c.parseResult(result.FieldMap, result.Line1, result.Line2, startDate))
		}

		offset++
		if offset*c.pageSize >= total {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pagePause):
		}
	}

	return docs, nil
}

// FetchDate pulls every document published on a single date.
func (c *Client) FetchDate(ctx context.Context, date string) ([]models.RawDocument, error) {
	return c.FetchRange(ctx, date, date)
}

func (c *Client) fetchPage(ctx context.Context, startDate, endDate string, offset int) (*searchResponse, error) {
	payload := searchRequest{
		Query:    fmt.Sprintf("publishdate:range(%s,%s)", startDate, endDate),
		Offset:   offset,
		PageSize: c.pageSize,
		SortBy:   "2",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "CongressSignalCrawler/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &parsed, nil
}

func (c *Client) parseResult(fieldMap map[string]string, line1, line2, queryDate string) models.RawDocument {
	packageID := fieldMap["packageid"]
	granuleID := fieldMap["granuleid"]

	var pdfURL, htmlURL string
	if pdfFile := fieldMap["pdffile"]; pdfFile != "" {
		pdfURL = fmt.Sprintf("%s/content/pkg/%s/%s", c.baseURL, packageID, pdfFile)
	}
	if htmlFile := fieldMap["htmlfile"]; htmlFile != "" {
		htmlURL = fmt.Sprintf("%s/content/pkg/%s/%s", c.baseURL, packageID, htmlFile)
	}

	detailsURL := fmt.Sprintf("%s/app/details/%s", c.baseURL, packageID)
	if granuleID != "" {
		detailsURL += "/" + granuleID
	}

	title := fieldMap["title"]
	if title == "" {
		title = line1
	}

	return models.RawDocument{
		PackageID:   packageID,
		GranuleID:   granuleID,
		Title:       title,
		DocClass:    fieldMap["collectionCode"],
		PublishDate: queryDate,
		Metadata:    line2,
		PDFURL:      pdfURL,
		HTMLURL:     htmlURL,
		DetailsURL:  detailsURL,
		Summary:     fieldMap["teaser"],
	}
}
