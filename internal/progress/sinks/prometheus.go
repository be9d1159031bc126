package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/depfollow/internal/progress"
)

// PrometheusSink exports follower progress via Prometheus. It owns the
// collectors for change outcomes, versions written, processing latency and the
// last checkpointed sequence.
type PrometheusSink struct {
	changes         *prometheus.CounterVec
	versionsWritten prometheus.Counter
	processDuration *prometheus.HistogramVec
	checkpoint      prometheus.Gauge
	running         prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depfollow_changes_total",
			Help: "Change events handled, partitioned by outcome.",
		}, []string{"outcome"}),
		versionsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "depfollow_versions_written_total",
			Help: "Dependency records written across all publish events.",
		}),
		processDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "depfollow_change_duration_seconds",
			Help:    "Processing latency per change event, partitioned by outcome.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"outcome"}),
		checkpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "depfollow_checkpoint_sequence",
			Help: "Last fully processed change sequence.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "depfollow_running",
			Help: "1 while the follower control loop is running.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.changes,
		s.versionsWritten,
		s.processDuration,
		s.checkpoint,
		s.running,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageFollowStart:
		s.running.Set(1)
		s.checkpoint.Set(float64(evt.Sequence))
	case progress.StageFollowStop:
		s.running.Set(0)
	case progress.StageChangeProcessed:
		s.observeChange("processed", evt)
		s.versionsWritten.Add(float64(evt.Versions))
		s.checkpoint.Set(float64(evt.Sequence))
	case progress.StageChangeSkipped:
		s.observeChange("skipped", evt)
		s.checkpoint.Set(float64(evt.Sequence))
	case progress.StageChangeFailed:
		s.observeChange("failed", evt)
	}
}

func (s *PrometheusSink) observeChange(outcome string, evt progress.Event) {
	s.changes.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.processDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
