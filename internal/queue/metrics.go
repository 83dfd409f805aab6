package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enqueuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_enqueues_total",
		Help: "Messages pushed onto the main work list",
	}, []string{"queue"})

	claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_claims_total",
		Help: "Messages claimed into the processing list",
	}, []string{"queue"})

	delayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_delayed_total",
		Help: "Messages scheduled into the delayed set",
	}, []string{"queue"})

	promotedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_promoted_total",
		Help: "Delayed messages promoted back onto the main list",
	}, []string{"queue"})

	deadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_dead_letters_total",
		Help: "Messages pushed onto the dead-letter list",
	}, []string{"queue"})

	jobOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_job_outcomes_total",
		Help: "Per-message worker outcomes",
	}, []string{"queue", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_job_duration_seconds",
		Help:    "Handler execution time per queue",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})

	sweptOrphansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_swept_orphans_total",
		Help: "Orphaned in-flight messages recovered by the sweeper",
	}, []string{"queue"})

	depthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Current depth per queue and physical structure",
	}, []string{"queue", "structure"})
)
