package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/congresssignal/backend/internal/storage/models"
	"github.com/congresssignal/backend/pkg/logger"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	// granule_id defaults to '' instead of NULL: sqlite treats NULLs as
	// distinct in UNIQUE constraints, which would break natural-key dedup.
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		package_id TEXT NOT NULL,
		granule_id TEXT NOT NULL DEFAULT '',
		title TEXT,
		doc_class TEXT,
		publish_date TEXT NOT NULL,
		metadata TEXT,
		pdf_url TEXT,
		html_url TEXT,
		details_url TEXT,
		summary TEXT,
		crawled_at INTEGER NOT NULL,
		UNIQUE(package_id, granule_id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_publish_date ON documents(publish_date);
	CREATE INDEX IF NOT EXISTS idx_documents_doc_class ON documents(doc_class);

	CREATE TABLE IF NOT EXISTS extractions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id INTEGER NOT NULL UNIQUE,
		title TEXT,
		companies TEXT,
		sectors TEXT,
		relevance TEXT,
		summary TEXT,
		raw_payload TEXT,
		summary_hash TEXT,
		embedding TEXT,
		extracted_at INTEGER NOT NULL,
		embedded_at INTEGER,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		sectors TEXT,
		relevance_threshold TEXT,
		keywords TEXT,
		is_verified INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		welcome_sent_at INTEGER,
		unsubscribed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS subscriptions_pro (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		company_type TEXT,
		keywords TEXT,
		frequency TEXT NOT NULL DEFAULT 'daily',
		is_verified INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		unsubscribed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS extractions_pro (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_pro_id INTEGER NOT NULL,
		document_id INTEGER NOT NULL,
		period_date TEXT NOT NULL,
		summary TEXT,
		sent_at INTEGER,
		created_at INTEGER NOT NULL,
		UNIQUE(subscription_pro_id, document_id, period_date),
		FOREIGN KEY (subscription_pro_id) REFERENCES subscriptions_pro(id) ON DELETE CASCADE,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_extractions_pro_period ON extractions_pro(subscription_pro_id, period_date);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// UpsertDocument inserts a document or refreshes the mutable metadata of an
// existing row with the same natural key. PublishDate and the key columns are
// never overwritten. Returns true when a new row was inserted.
func (c *Client) UpsertDocument(doc *models.Document) (bool, error) {
	var existingID int64
	err := c.db.QueryRow(
		`SELECT id FROM documents WHERE package_id = ? AND granule_id = ?`,
		doc.PackageID, doc.GranuleID,
	).Scan(&existingID)

	switch {
	case err == sql.ErrNoRows:
		res, insErr := c.db.Exec(
			`INSERT INTO documents (package_id, granule_id, title, doc_class, publish_date, metadata, pdf_url, html_url, details_url, summary, crawled_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.PackageID, doc.GranuleID, doc.Title, doc.DocClass, doc.PublishDate,
			doc.Metadata, doc.PDFURL, doc.HTMLURL, doc.DetailsURL, doc.Summary,
			doc.CrawledAt.Unix(),
		)
		if insErr != nil {
			// Lost the race against a concurrent crawl of the same key.
			if strings.Contains(insErr.Error(), "UNIQUE constraint failed") {
				return false, c.refreshDocument(doc)
			}
			return false, fmt.Errorf("failed to insert document: %w", insErr)
		}
		doc.ID, _ = res.LastInsertId()
		return true, nil

	case err != nil:
		return false, fmt.Errorf("failed to look up document: %w", err)

	default:
		doc.ID = existingID
		return false, c.refreshDocument(doc)
	}
}

func (c *Client) refreshDocument(doc *models.Document) error {
	_, err := c.db.Exec(
		`UPDATE documents SET title = ?, doc_class = ?, metadata = ?, pdf_url = ?, html_url = ?, details_url = ?, summary = ?
		 WHERE package_id = ? AND granule_id = ?`,
		doc.Title, doc.DocClass, doc.Metadata, doc.PDFURL, doc.HTMLURL,
		doc.DetailsURL, doc.Summary, doc.PackageID, doc.GranuleID,
	)
	if err != nil {
		return fmt.Errorf("failed to refresh document: %w", err)
	}
	if doc.ID == 0 {
		row := c.db.QueryRow(
			`SELECT id FROM documents WHERE package_id = ? AND granule_id = ?`,
			doc.PackageID, doc.GranuleID,
		)
		if scanErr := row.Scan(&doc.ID); scanErr != nil {
			return fmt.Errorf("failed to resolve document id: %w", scanErr)
		}
	}
	return nil
}

const documentColumns = `id, package_id, granule_id, title, doc_class, publish_date, metadata, pdf_url, html_url, details_url, summary, crawled_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var doc models.Document
	var crawledAt int64
	err := row.Scan(
		&doc.ID, &doc.PackageID, &doc.GranuleID, &doc.Title, &doc.DocClass,
		&doc.PublishDate, &doc.Metadata, &doc.PDFURL, &doc.HTMLURL,
		&doc.DetailsURL, &doc.Summary, &crawledAt,
	)
	if err != nil {
		return nil, err
	}
	doc.CrawledAt = time.Unix(crawledAt, 0)
	return &doc, nil
}

func (c *Client) GetDocument(id int64) (*models.Document, error) {
	row := c.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// GetDocumentsByIDs returns the documents for the given ids, in no particular
// order. Missing ids are silently absent from the result.
func (c *Client) GetDocumentsByIDs(ids []int64) ([]models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.Query(
		`SELECT `+documentColumns+` FROM documents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan document: %w", scanErr)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// ListUnextractedDocuments returns documents with an html_url and no
// extraction row yet, optionally restricted to one publish date.
func (c *Client) ListUnextractedDocuments(date string, limit int) ([]models.Document, error) {
	query := `SELECT ` + prefixColumns("d", documentColumns) + `
		FROM documents d
		LEFT JOIN extractions e ON e.document_id = d.id
		WHERE e.id IS NULL AND d.html_url != ''`
	var args []any
	if date != "" {
		query += ` AND d.publish_date = ?`
		args = append(args, date)
	}
	query += ` ORDER BY d.id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unextracted documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan document: %w", scanErr)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

// UpsertExtraction inserts or overwrites the extraction for a document.
// The embedding, summary hash and embedded_at columns are left untouched on
// conflict; the indexer decides whether the stored vector is still valid.
func (c *Client) UpsertExtraction(e *models.Extraction) error {
	companies, err := json.Marshal(e.Companies)
	if err != nil {
		return fmt.Errorf("failed to marshal companies: %w", err)
	}
	sectors, err := json.Marshal(e.Sectors)
	if err != nil {
		return fmt.Errorf("failed to marshal sectors: %w", err)
	}

	res, err := c.db.Exec(
		`INSERT INTO extractions (document_id, title, companies, sectors, relevance, summary, raw_payload, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			title = excluded.title,
			companies = excluded.companies,
			sectors = excluded.sectors,
			relevance = excluded.relevance,
			summary = excluded.summary,
			raw_payload = excluded.raw_payload,
			extracted_at = excluded.extracted_at`,
		e.DocumentID, e.Title, string(companies), string(sectors),
		string(e.Relevance), e.Summary, e.RawPayload, e.ExtractedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert extraction: %w", err)
	}

	if id, idErr := res.LastInsertId(); idErr == nil && id > 0 {
		e.ID = id
	}

	logger.Debug("Extraction upserted", zap.Int64("document_id", e.DocumentID))
	return nil
}

const extractionColumns = `id, document_id, title, companies, sectors, relevance, summary, raw_payload, summary_hash, embedding, extracted_at, embedded_at`

func scanExtraction(row interface{ Scan(...any) error }) (*models.Extraction, error) {
	var e models.Extraction
	var companies, sectors, relevance sql.NullString
	var summary, rawPayload, summaryHash, embedding sql.NullString
	var extractedAt int64
	var embeddedAt sql.NullInt64

	err := row.Scan(
		&e.ID, &e.DocumentID, &e.Title, &companies, &sectors, &relevance,
		&summary, &rawPayload, &summaryHash, &embedding, &extractedAt, &embeddedAt,
	)
	if err != nil {
		return nil, err
	}

	if companies.Valid && companies.String != "" {
		if err := json.Unmarshal([]byte(companies.String), &e.Companies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal companies: %w", err)
		}
	}
	if sectors.Valid && sectors.String != "" {
		if err := json.Unmarshal([]byte(sectors.String), &e.Sectors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sectors: %w", err)
		}
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &e.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
	}
	e.Relevance = models.Relevance(relevance.String)
	e.Summary = summary.String
	e.RawPayload = rawPayload.String
	e.SummaryHash = summaryHash.String
	e.ExtractedAt = time.Unix(extractedAt, 0)
	if embeddedAt.Valid {
		t := time.Unix(embeddedAt.Int64, 0)
		e.EmbeddedAt = &t
	}
	return &e, nil
}

func (c *Client) GetExtractionByDocument(documentID int64) (*models.Extraction, error) {
	row := c.db.QueryRow(`SELECT `+extractionColumns+` FROM extractions WHERE document_id = ?`, documentID)
	e, err := scanExtraction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction: %w", err)
	}
	return e, nil
}

func (c *Client) GetExtraction(id int64) (*models.Extraction, error) {
	row := c.db.QueryRow(`SELECT `+extractionColumns+` FROM extractions WHERE id = ?`, id)
	e, err := scanExtraction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction: %w", err)
	}
	return e, nil
}

// ListExtractionsNeedingEmbedding returns extractions with a summary but no
// stored vector, for backfill runs.
func (c *Client) ListExtractionsNeedingEmbedding(limit int) ([]models.Extraction, error) {
	query := `SELECT ` + extractionColumns + ` FROM extractions
		WHERE summary IS NOT NULL AND summary != '' AND embedding IS NULL
		ORDER BY id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query extractions needing embedding: %w", err)
	}
	defer rows.Close()

	var out []models.Extraction
	for rows.Next() {
		e, scanErr := scanExtraction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan extraction: %w", scanErr)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// SetExtractionEmbedding stores the vector and the hash of the summary it was
// computed from in one UPDATE, so a reader never sees fresh text paired with
// a stale vector.
func (c *Client) SetExtractionEmbedding(id int64, vector []float32, summaryHash string, at time.Time) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	_, err = c.db.Exec(
		`UPDATE extractions SET embedding = ?, summary_hash = ?, embedded_at = ? WHERE id = ?`,
		string(data), summaryHash, at.Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set extraction embedding: %w", err)
	}
	return nil
}

// ListExtractionsForDate returns extractions joined with their documents for a
// publish date, for the free daily digest.
func (c *Client) ListExtractionsForDate(date string) ([]models.Extraction, []models.Document, error) {
	rows, err := c.db.Query(
		`SELECT `+prefixColumns("e", extractionColumns)+`, `+prefixColumns("d", documentColumns)+`
		 FROM extractions e
		 JOIN documents d ON d.id = e.document_id
		 WHERE d.publish_date = ?
		 ORDER BY e.id`, date)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query extractions for date: %w", err)
	}
	defer rows.Close()

	var extractions []models.Extraction
	var docs []models.Document
	for rows.Next() {
		var e models.Extraction
		var doc models.Document
		var companies, sectors, relevance, summary, rawPayload, summaryHash, embedding sql.NullString
		var extractedAt, crawledAt int64
		var embeddedAt sql.NullInt64

		err := rows.Scan(
			&e.ID, &e.DocumentID, &e.Title, &companies, &sectors, &relevance,
			&summary, &rawPayload, &summaryHash, &embedding, &extractedAt, &embeddedAt,
			&doc.ID, &doc.PackageID, &doc.GranuleID, &doc.Title, &doc.DocClass,
			&doc.PublishDate, &doc.Metadata, &doc.PDFURL, &doc.HTMLURL,
			&doc.DetailsURL, &doc.Summary, &crawledAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan extraction row: %w", err)
		}

		if companies.Valid && companies.String != "" {
			json.Unmarshal([]byte(companies.String), &e.Companies)
		}
		if sectors.Valid && sectors.String != "" {
			json.Unmarshal([]byte(sectors.String), &e.Sectors)
		}
		e.Relevance = models.Relevance(relevance.String)
		e.Summary = summary.String
		e.ExtractedAt = time.Unix(extractedAt, 0)
		doc.CrawledAt = time.Unix(crawledAt, 0)

		extractions = append(extractions, e)
		docs = append(docs, doc)
	}
	return extractions, docs, rows.Err()
}

func (c *Client) InsertSubscription(s *models.Subscription) error {
	sectors, err := json.Marshal(s.Sectors)
	if err != nil {
		return fmt.Errorf("failed to marshal sectors: %w", err)
	}
	keywords, err := json.Marshal(s.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	res, err := c.db.Exec(
		`INSERT INTO subscriptions (email, sectors, relevance_threshold, keywords, is_verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.Email, string(sectors), string(s.RelevanceThreshold), string(keywords),
		boolToInt(s.IsVerified), s.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	s.ID, _ = res.LastInsertId()
	return nil
}

const subscriptionColumns = `id, email, sectors, relevance_threshold, keywords, is_verified, created_at, welcome_sent_at, unsubscribed_at`

func scanSubscription(row interface{ Scan(...any) error }) (*models.Subscription, error) {
	var s models.Subscription
	var sectors, threshold, keywords sql.NullString
	var isVerified int
	var createdAt int64
	var welcomeSentAt, unsubscribedAt sql.NullInt64

	err := row.Scan(&s.ID, &s.Email, &sectors, &threshold, &keywords, &isVerified, &createdAt, &welcomeSentAt, &unsubscribedAt)
	if err != nil {
		return nil, err
	}

	if sectors.Valid && sectors.String != "" {
		json.Unmarshal([]byte(sectors.String), &s.Sectors)
	}
	if keywords.Valid && keywords.String != "" {
		json.Unmarshal([]byte(keywords.String), &s.Keywords)
	}
	s.RelevanceThreshold = models.Relevance(threshold.String)
	s.IsVerified = isVerified != 0
	s.CreatedAt = time.Unix(createdAt, 0)
	if welcomeSentAt.Valid {
		t := time.Unix(welcomeSentAt.Int64, 0)
		s.WelcomeSentAt = &t
	}
	if unsubscribedAt.Valid {
		t := time.Unix(unsubscribedAt.Int64, 0)
		s.UnsubscribedAt = &t
	}
	return &s, nil
}

func (c *Client) GetSubscription(id int64) (*models.Subscription, error) {
	row := c.db.QueryRow(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	s, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

func (c *Client) ListActiveSubscriptions() ([]models.Subscription, error) {
	rows, err := c.db.Query(
		`SELECT ` + subscriptionColumns + ` FROM subscriptions
		 WHERE is_verified = 1 AND unsubscribed_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []models.Subscription
	for rows.Next() {
		s, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", scanErr)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ClaimWelcome atomically marks the welcome digest as sent. Returns false if
// another invocation already claimed it, making the onboarding path safe
// under at-least-once event delivery.
func (c *Client) ClaimWelcome(subscriptionID int64, at time.Time) (bool, error) {
	res, err := c.db.Exec(
		`UPDATE subscriptions SET welcome_sent_at = ? WHERE id = ? AND welcome_sent_at IS NULL`,
		at.Unix(), subscriptionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim welcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (c *Client) InsertProSubscription(s *models.ProSubscription) error {
	keywords, err := json.Marshal(s.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	res, err := c.db.Exec(
		`INSERT INTO subscriptions_pro (email, company_type, keywords, frequency, is_verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.Email, s.CompanyType, string(keywords), string(s.Frequency),
		boolToInt(s.IsVerified), s.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pro subscription: %w", err)
	}
	s.ID, _ = res.LastInsertId()
	return nil
}

const proSubscriptionColumns = `id, email, company_type, keywords, frequency, is_verified, created_at, unsubscribed_at`

func scanProSubscription(row interface{ Scan(...any) error }) (*models.ProSubscription, error) {
	var s models.ProSubscription
	var keywords sql.NullString
	var frequency string
	var isVerified int
	var createdAt int64
	var unsubscribedAt sql.NullInt64

	err := row.Scan(&s.ID, &s.Email, &s.CompanyType, &keywords, &frequency, &isVerified, &createdAt, &unsubscribedAt)
	if err != nil {
		return nil, err
	}

	if keywords.Valid && keywords.String != "" {
		json.Unmarshal([]byte(keywords.String), &s.Keywords)
	}
	s.Frequency = models.Frequency(frequency)
	s.IsVerified = isVerified != 0
	s.CreatedAt = time.Unix(createdAt, 0)
	if unsubscribedAt.Valid {
		t := time.Unix(unsubscribedAt.Int64, 0)
		s.UnsubscribedAt = &t
	}
	return &s, nil
}

func (c *Client) GetProSubscription(id int64) (*models.ProSubscription, error) {
	row := c.db.QueryRow(`SELECT `+proSubscriptionColumns+` FROM subscriptions_pro WHERE id = ?`, id)
	s, err := scanProSubscription(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pro subscription: %w", err)
	}
	return s, nil
}

func (c *Client) ListActiveProSubscriptions() ([]models.ProSubscription, error) {
	rows, err := c.db.Query(
		`SELECT ` + proSubscriptionColumns + ` FROM subscriptions_pro
		 WHERE is_verified = 1 AND unsubscribed_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pro subscriptions: %w", err)
	}
	defer rows.Close()

	var out []models.ProSubscription
	for rows.Next() {
		s, scanErr := scanProSubscription(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan pro subscription: %w", scanErr)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpsertAssignment inserts a (subscription, document, period) assignment.
// A conflicting row is the expected steady state on reruns and is a no-op.
func (c *Client) UpsertAssignment(subscriptionID, documentID int64, periodDate string, at time.Time) error {
	_, err := c.db.Exec(
		`INSERT INTO extractions_pro (subscription_pro_id, document_id, period_date, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(subscription_pro_id, document_id, period_date) DO NOTHING`,
		subscriptionID, documentID, periodDate, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert assignment: %w", err)
	}
	return nil
}

const assignmentSelect = `SELECT a.id, a.subscription_pro_id, a.document_id, a.period_date, a.summary, a.sent_at, a.created_at, d.title, d.html_url
	FROM extractions_pro a
	JOIN documents d ON d.id = a.document_id`

func scanAssignment(row interface{ Scan(...any) error }) (*models.ProDigestAssignment, error) {
	var a models.ProDigestAssignment
	var summary sql.NullString
	var sentAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&a.ID, &a.SubscriptionID, &a.DocumentID, &a.PeriodDate, &summary, &sentAt, &createdAt, &a.DocTitle, &a.DocHTMLURL)
	if err != nil {
		return nil, err
	}

	a.Summary = summary.String
	a.CreatedAt = time.Unix(createdAt, 0)
	if sentAt.Valid {
		t := time.Unix(sentAt.Int64, 0)
		a.SentAt = &t
	}
	return &a, nil
}

// ListPendingAssignments returns assignments still waiting for a tailored
// summary for one subscription and period.
func (c *Client) ListPendingAssignments(subscriptionID int64, periodDate string) ([]models.ProDigestAssignment, error) {
	rows, err := c.db.Query(
		assignmentSelect+` WHERE a.subscription_pro_id = ? AND a.period_date = ? AND a.summary IS NULL ORDER BY a.id`,
		subscriptionID, periodDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending assignments: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

// ListUnsentAssignments returns summarized assignments that have not been
// delivered yet.
func (c *Client) ListUnsentAssignments(subscriptionID int64, periodDate string) ([]models.ProDigestAssignment, error) {
	rows, err := c.db.Query(
		assignmentSelect+` WHERE a.subscription_pro_id = ? AND a.period_date = ? AND a.summary IS NOT NULL AND a.sent_at IS NULL ORDER BY a.id`,
		subscriptionID, periodDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsent assignments: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

func collectAssignments(rows *sql.Rows) ([]models.ProDigestAssignment, error) {
	var out []models.ProDigestAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (c *Client) SetAssignmentSummary(id int64, summary string) error {
	_, err := c.db.Exec(`UPDATE extractions_pro SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("failed to set assignment summary: %w", err)
	}
	return nil
}

// MarkAssignmentsSent stamps sent_at on the given assignments in one batch.
func (c *Client) MarkAssignmentsSent(ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.Unix())
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := c.db.Exec(
		`UPDATE extractions_pro SET sent_at = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark assignments sent: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
