package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ImportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webgis_imports_total",
		Help: "Import pipeline runs by outcome",
	}, []string{"outcome"})
	ImportedFeaturesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webgis_imported_features_total",
		Help: "Features committed by the import pipeline",
	})
	ImportDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webgis_import_duration_ms",
		Help:    "Import duration in milliseconds",
		Buckets: []float64{50, 100, 500, 1000, 5000, 15000, 60000, 300000},
	})
	ChunkRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webgis_chunk_requests_total",
		Help: "Chunk fetches by outcome",
	}, []string{"outcome"})
	ChunkCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webgis_chunk_cache_hits_total",
		Help: "Chunk payloads served from redis",
	})
	StagedFilesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webgis_staged_files_total",
		Help: "Uploads written to the staging area",
	})
)

func init() {
	prometheus.MustRegister(ImportsTotal)
	prometheus.MustRegister(ImportedFeaturesTotal)
	prometheus.MustRegister(ImportDurationMs)
	prometheus.MustRegister(ChunkRequestsTotal)
	prometheus.MustRegister(ChunkCacheHitsTotal)
	prometheus.MustRegister(StagedFilesTotal)
}

// MetricsHandler 挂载到 /metrics
func MetricsHandler() http.Handler { return promhttp.Handler() }
