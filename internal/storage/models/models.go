package models

import "time"

// Relevance is a closed, ordered enumeration. Unlike sectors it is not
// expected to grow; unknown values coming back from the extractor are dropped.
type Relevance string

const (
	RelevanceLow    Relevance = "low"
	RelevanceMedium Relevance = "medium"
	RelevanceHigh   Relevance = "high"
)

// Rank maps relevance to its position for threshold comparison.
// An empty or unknown value ranks 0 and is excluded by any real threshold.
func (r Relevance) Rank() int {
	switch r {
	case RelevanceLow:
		return 1
	case RelevanceMedium:
		return 2
	case RelevanceHigh:
		return 3
	default:
		return 0
	}
}

func (r Relevance) Valid() bool {
	return r.Rank() > 0
}

// KnownSectors is the sector taxonomy at time of writing. The set is
// append-only: new sectors may appear in stored rows without a code change,
// so consumers must treat unknown stored values as valid.
var KnownSectors = []string{
	"healthcare",
	"finance",
	"tech",
	"energy",
	"manufacturing",
	"retail",
	"other",
}

func IsKnownSector(s string) bool {
	for _, known := range KnownSectors {
		if s == known {
			return true
		}
	}
	return false
}

// Frequency is the pro delivery cadence.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// RawDocument is an unnormalized record as returned by the upstream
// publication source, before ingestion assigns identity.
type RawDocument struct {
	PackageID   string
	GranuleID   string
	Title       string
	DocClass    string
	PublishDate string
	Metadata    string
	PDFURL      string
	HTMLURL     string
	DetailsURL  string
	Summary     string
}

// Document is one government publication record. The natural key is
// (PackageID, GranuleID); an empty GranuleID means "whole package".
type Document struct {
	ID          int64
	PackageID   string
	GranuleID   string
	Title       string
	DocClass    string
	PublishDate string // YYYY-MM-DD
	Metadata    string
	PDFURL      string
	HTMLURL     string
	DetailsURL  string
	Summary     string
	CrawledAt   time.Time
}

// NaturalKey returns the dedup key for the document.
func (d *Document) NaturalKey() string {
	return d.PackageID + "/" + d.GranuleID
}

// Extraction is the structured business signal derived from exactly one
// document. Embedding stays nil until the indexer computes it; SummaryHash
// tracks which summary text the embedding belongs to.
type Extraction struct {
	ID          int64
	DocumentID  int64
	Title       string
	Companies   []string
	Sectors     []string
	Relevance   Relevance
	Summary     string
	RawPayload  string
	SummaryHash string
	Embedding   []float32
	ExtractedAt time.Time
	EmbeddedAt  *time.Time
}

// Subscription is a free-tier interest profile.
type Subscription struct {
	ID                 int64
	Email              string
	Sectors            []string
	RelevanceThreshold Relevance
	Keywords           []string
	IsVerified         bool
	CreatedAt          time.Time
	WelcomeSentAt      *time.Time
	UnsubscribedAt     *time.Time
}

// Active reports whether the subscription should receive digests.
func (s *Subscription) Active() bool {
	return s.IsVerified && s.UnsubscribedAt == nil
}

// ProSubscription is the richer pro-tier profile.
type ProSubscription struct {
	ID             int64
	Email          string
	CompanyType    string
	Keywords       []string
	Frequency      Frequency
	IsVerified     bool
	CreatedAt      time.Time
	UnsubscribedAt *time.Time
}

func (s *ProSubscription) Active() bool {
	return s.IsVerified && s.UnsubscribedAt == nil
}

// AssignmentState is derived from the nullable columns of an assignment row:
// pending (summary null) -> summarized (summary set) -> sent (sent_at set).
type AssignmentState string

const (
	AssignmentPending    AssignmentState = "pending"
	AssignmentSummarized AssignmentState = "summarized"
	AssignmentSent       AssignmentState = "sent"
)

// ProDigestAssignment joins a pro subscription to a document for one
// reporting period. Unique on (SubscriptionID, DocumentID, PeriodDate).
type ProDigestAssignment struct {
	ID             int64
	SubscriptionID int64
	DocumentID     int64
	PeriodDate     string // YYYY-MM-DD
	Summary        string
	SentAt         *time.Time
	CreatedAt      time.Time

	// Joined document fields, populated by list queries that need them.
	DocTitle   string
	DocHTMLURL string
}

func (a *ProDigestAssignment) State() AssignmentState {
	switch {
	case a.SentAt != nil:
		return AssignmentSent
	case a.Summary != "":
		return AssignmentSummarized
	default:
		return AssignmentPending
	}
}
