package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-harvester/internal/progress"
)

// PrometheusSink exports harvest progress as Prometheus collectors.
type PrometheusSink struct {
	items         *prometheus.CounterVec
	bytes         prometheus.Counter
	sessions      *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	lastIndex     prometheus.Gauge
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_items_total",
			Help: "Catalog items processed partitioned by outcome.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_bytes_total",
			Help: "Bytes of artifacts saved.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_sessions_total",
			Help: "Sessions finished partitioned by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_fetch_duration_seconds",
			Help:    "Artifact fetch latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		lastIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_last_item_index",
			Help: "Catalog index of the most recently processed item.",
		}),
	}
	for _, collector := range []prometheus.Collector{s.items, s.bytes, s.sessions, s.fetchDuration, s.lastIndex} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageItemSaved:
			s.items.WithLabelValues("saved").Inc()
			s.bytes.Add(float64(evt.Bytes))
			s.observeFetch(evt)
			s.lastIndex.Set(float64(evt.Index))
		case progress.StageItemSkipped:
			s.items.WithLabelValues("skipped").Inc()
			s.lastIndex.Set(float64(evt.Index))
		case progress.StageItemFailed:
			s.items.WithLabelValues("failed").Inc()
			s.observeFetch(evt)
			s.lastIndex.Set(float64(evt.Index))
		case progress.StageSessionEnd:
			s.sessions.WithLabelValues(evt.Outcome).Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) observeFetch(evt progress.Event) {
	if evt.Dur > 0 {
		s.fetchDuration.Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
