// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segview_submission_count_total",
			Help: "Submissions to the segmentation endpoint by outcome",
		},
		[]string{"tier", "outcome"},
	)

	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "segview_inference_duration_seconds",
			Help:    "Time taken by the segmentation endpoint in seconds",
			Buckets: []float64{.25, .5, 1, 2, 3, 5, 8, 13, 21, 34, 55, 90},
		},
		[]string{"tier", "status"},
	)

	ValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segview_validation_rejections_total",
			Help: "Files rejected before submission",
		},
		[]string{"kind"},
	)

	LiveHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "segview_live_handles",
			Help: "Preview and result handles currently held",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "segview_active_sessions",
			Help: "Open upload sessions",
		},
	)

	BlendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segview_blend_duration_seconds",
			Help:    "Time spent compositing blend rasters",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segview_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
