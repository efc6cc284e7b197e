package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	modelsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "diffusiond",
		Subsystem: "cache",
		Name:      "models_loaded",
		Help:      "Number of model handles resident in the cache",
	})

	loadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diffusiond",
		Subsystem: "cache",
		Name:      "loads_total",
		Help:      "Total successful model loads",
	})

	loadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diffusiond",
		Subsystem: "cache",
		Name:      "load_failures_total",
		Help:      "Total model load failures (before fallback substitution)",
	})

	evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diffusiond",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total handles evicted (EvictAll and LRU bound)",
	})

	generationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diffusiond",
		Subsystem: "generate",
		Name:      "images_total",
		Help:      "Total images generated",
	})

	generationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "diffusiond",
		Subsystem: "generate",
		Name:      "duration_seconds",
		Help:      "Duration of generation requests in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(modelsLoaded, loadsTotal, loadFailuresTotal, evictionsTotal, generationsTotal, generationDuration)
}
