package files

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// treeBuildDuration tracks how long a full directory walk takes
	treeBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logviewer_tree_build_duration_seconds",
		Help:    "Time to walk the log directory and build the tree",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	// tailSessions counts open live-tail connections
	tailSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logviewer_tail_sessions",
		Help: "Number of active live tail sessions",
	})
)

// TailSessionOpened and TailSessionClosed keep the tail gauge in step with
// websocket sessions.
func TailSessionOpened() { tailSessions.Inc() }
func TailSessionClosed() { tailSessions.Dec() }
