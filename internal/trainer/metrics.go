package trainer

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "diffusiond",
		Subsystem: "train",
		Name:      "jobs_active",
		Help:      "Training jobs currently executing",
	})

	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "diffusiond",
		Subsystem: "train",
		Name:      "jobs_total",
		Help:      "Finished training jobs by terminal status",
	}, []string{"status"})

	jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "diffusiond",
		Subsystem: "train",
		Name:      "duration_seconds",
		Help:      "Duration of completed training jobs in seconds",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
	})
)

func init() {
	prometheus.MustRegister(jobsActive, jobsTotal, jobDuration)
}
