package common

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dataflow",
		Name:      "executions_finished_total",
		Help:      "Pipeline executions that reached a terminal status.",
	}, []string{"status"})

	TransformationsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dataflow",
		Name:      "transformations_run_total",
		Help:      "Transformation runs by resulting status.",
	}, []string{"status"})

	TransformationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dataflow",
		Name:      "transformation_duration_seconds",
		Help:      "Wall time of a single transformation run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"language"})

	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dataflow",
		Name:      "buffer_backups_total",
		Help:      "Buffer backups by result.",
	}, []string{"result"})
)
