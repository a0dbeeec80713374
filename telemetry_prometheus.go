package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus histograms give the tick-duration percentile/stddev metrics the
// JSON telemetrySnapshot never tried to compute by hand; the Go collector
// below supplies the heap gauges. Both are scraped at /metrics alongside the
// existing /diagnostics endpoint, which stays as the lightweight JSON view
// used by the browser devtool.
var (
	promTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netcode_tick_duration_seconds",
		Help:    "Wall-clock duration of each simulation tick.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	promTickOverrunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netcode_tick_overrun_total",
		Help: "Ticks that exceeded their scheduled budget, by overrun bucket.",
	}, []string{"bucket"})

	promTickBudgetAlarmTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netcode_tick_budget_alarm_total",
		Help: "Resync alarms triggered by a sustained tick-budget overrun streak.",
	})

	promBroadcastBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netcode_broadcast_bytes",
		Help:    "Size in bytes of each per-tick state broadcast payload.",
		Buckets: prometheus.ExponentialBuckets(64, 2, 14),
	})

	promBroadcastEntities = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netcode_broadcast_entities",
		Help:    "Number of entities included in each per-tick state broadcast.",
		Buckets: prometheus.LinearBuckets(0, 10, 20),
	})

	promInputRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netcode_input_rejected_total",
		Help: "Client inputs rejected by the InputGateway, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(collectors.NewGoCollector())
	prometheus.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func observeTickDuration(d time.Duration) {
	promTickDuration.Observe(d.Seconds())
}

func observeBroadcast(bytes, entities int) {
	if bytes < 0 {
		bytes = 0
	}
	if entities < 0 {
		entities = 0
	}
	promBroadcastBytes.Observe(float64(bytes))
	promBroadcastEntities.Observe(float64(entities))
}

func observeTickBudgetOverrun(bucket string) {
	promTickOverrunTotal.WithLabelValues(bucket).Inc()
}

func observeTickBudgetAlarm() {
	promTickBudgetAlarmTotal.Inc()
}

func observeInputRejected(reason string) {
	promInputRejectedTotal.WithLabelValues(reason).Inc()
}

var subscriberQueueDropTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "netcode_subscriber_queue_drop_total",
	Help: "Broadcast frames dropped because a subscriber send queue was full.",
})

func observeSubscriberQueueDrop() {
	subscriberQueueDropTotal.Inc()
}
