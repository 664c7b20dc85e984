package retention

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logviewer_cleanup_runs_total",
		Help: "Total retention sweeps by trigger and result",
	}, []string{"trigger", "result"})

	cleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logviewer_cleanup_files_deleted_total",
		Help: "Total files removed by retention sweeps",
	})
)

func observeRun(trigger string, res Result) {
	result := "ok"
	if res.Errors > 0 {
		result = "error"
	}
	cleanupRuns.WithLabelValues(trigger, result).Inc()
	if !res.DryRun {
		cleanupDeleted.Add(float64(res.Deleted))
	}
}
