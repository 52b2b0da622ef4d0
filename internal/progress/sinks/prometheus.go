package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MikoAlt/scrapqt/internal/progress"
)

// PrometheusSink exports sentiment job progress via Prometheus. It owns its
// collectors so tests can register against a private registry.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	itemsTotal    *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry;
// nil falls back to the default registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapqt_sentiment_jobs_started_total",
			Help: "Total sentiment jobs started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapqt_sentiment_jobs_completed_total",
			Help: "Sentiment jobs partitioned by terminal status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapqt_sentiment_jobs_running",
			Help: "Sentiment jobs currently running.",
		}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapqt_sentiment_progress_items_total",
			Help: "Items processed by running jobs, partitioned by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{
		s.jobsStarted, s.jobsCompleted, s.jobsRunning, s.itemsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		s.jobsRunning.Inc()
	case progress.StageItemDone:
		s.itemsTotal.WithLabelValues(string(evt.Outcome)).Inc()
	case progress.StageJobDone:
		s.jobsRunning.Dec()
		s.jobsCompleted.WithLabelValues(evt.Status).Inc()
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(_ context.Context) error { return nil }
