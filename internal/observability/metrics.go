package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceforge",
		Name:      "frames_processed_total",
		Help:      "Total number of frames that completed the pipeline",
	}, []string{"task_id"})

	FramesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceforge",
		Name:      "frames_failed_total",
		Help:      "Total number of frames that failed a processor stage",
	}, []string{"task_id"})

	FramesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceforge",
		Name:      "frames_skipped_total",
		Help:      "Total number of frames passed through unmodified (no face)",
	}, []string{"task_id"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceforge",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"detector"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceforge",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	SessionPoolHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceforge",
		Name:      "session_pool_hits_total",
		Help:      "Inference-session pool cache hits",
	})

	SessionPoolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceforge",
		Name:      "session_pool_misses_total",
		Help:      "Inference-session pool cache misses",
	})

	SessionPoolEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceforge",
		Name:      "session_pool_evictions_total",
		Help:      "Inference sessions evicted from the pool",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "faceforge",
		Name:      "pipeline_queue_depth",
		Help:      "Number of frames waiting in a pipeline queue",
	}, []string{"stage"})

	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceforge",
		Name:      "active_tasks",
		Help:      "Number of currently running tasks",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceforge",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket progress subscribers",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceforge",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
