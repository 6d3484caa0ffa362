package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Uploads        *prometheus.CounterVec
	JobsProcessed  *prometheus.CounterVec
	JobRetries     *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	QueueDepth     *prometheus.GaugeVec
	ViralityScores prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captionforge_uploads_total",
			Help: "Upload attempts by result.",
		}, []string{"result"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captionforge_jobs_processed_total",
			Help: "Queue jobs handled by lane and outcome.",
		}, []string{"lane", "outcome"}),
		JobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captionforge_job_retries_total",
			Help: "Jobs re-enqueued after a failure.",
		}, []string{"lane"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "captionforge_stage_duration_seconds",
			Help:    "Time spent in each processing stage.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"lane"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "captionforge_queue_depth",
			Help: "Jobs waiting per lane.",
		}, []string{"lane"}),
		ViralityScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "captionforge_virality_score",
			Help:    "Distribution of model virality scores.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Uploads, m.JobsProcessed, m.JobRetries, m.StageDuration, m.QueueDepth, m.ViralityScores,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveStage(lane string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.JobsProcessed.WithLabelValues(lane, outcome).Inc()
	m.StageDuration.WithLabelValues(lane).Observe(time.Since(start).Seconds())
}
