package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "congress_signal_documents_ingested_total",
			Help: "Documents upserted by ingestion runs",
		},
		[]string{"outcome"},
	)

	ExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "congress_signal_extractions_total",
			Help: "Extraction attempts by outcome",
		},
		[]string{"outcome"},
	)

	EmbeddingsComputed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "congress_signal_embeddings_computed_total",
			Help: "Embedding vectors computed",
		},
	)

	EmbeddingsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "congress_signal_embeddings_skipped_total",
			Help: "Reindex calls skipped because the summary was unchanged",
		},
	)

	MatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "congress_signal_match_duration_seconds",
			Help:    "Semantic match latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	MatchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "congress_signal_match_results_count",
			Help:    "Candidates returned per match call",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	DigestsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "congress_signal_digests_sent_total",
			Help: "Digest emails by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	EmbeddingCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "congress_signal_embedding_cache_hits_total",
			Help: "Embedder calls avoided by the cache",
		},
	)
)

func Init() {
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(ExtractionsTotal)
	prometheus.MustRegister(EmbeddingsComputed)
	prometheus.MustRegister(EmbeddingsSkipped)
	prometheus.MustRegister(MatchDuration)
	prometheus.MustRegister(MatchResults)
	prometheus.MustRegister(DigestsSent)
	prometheus.MustRegister(EmbeddingCacheHits)
}

// Handler serves the prometheus scrape endpoint through fiber.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
