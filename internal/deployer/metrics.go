package deployer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// stageMetrics times every pipeline stage. It uses its own registry so a run
// can be dumped to a node_exporter textfile without process metrics.
type stageMetrics struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
}

func newStageMetrics() *stageMetrics {
	m := &stageMetrics{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ndbctl",
				Name:      "stage_duration_seconds",
				Help:      "Duration of each deployment stage in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 11), // 1s to ~17min
			},
			[]string{"stage", "result"},
		),
	}
	m.registry.MustRegister(m.duration)
	return m
}

func (m *stageMetrics) observe(stage string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.duration.WithLabelValues(stage, result).Observe(time.Since(start).Seconds())
}

// write dumps the registry in the text exposition format.
func (m *stageMetrics) write(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
