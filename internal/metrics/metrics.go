package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	tasksRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fork",
		Name:      "tasks_running",
		Help:      "Number of task workers currently executing.",
	})

	tasksStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fork",
		Name:      "tasks_started_total",
		Help:      "Total number of task workers spawned.",
	}, []string{"task"})

	tasksFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fork",
		Name:      "tasks_finished_total",
		Help:      "Total number of task workers that exited, by result.",
	}, []string{"task", "result"})

	tasksKilled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fork",
		Name:      "tasks_killed_total",
		Help:      "Total number of task workers killed before completion.",
	}, []string{"task"})

	taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fork",
		Name:      "task_duration_seconds",
		Help:      "Wall-clock runtime of task workers in seconds.",
	}, []string{"task"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fork",
		Name:      "build_info",
		Help:      "Build metadata for the running fork binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(tasksRunning, tasksStarted, tasksFinished, tasksKilled, taskDuration, buildInfo)
}

// Registry returns the Prometheus registry containing all fork metrics.
func Registry() *prometheus.Registry {
	return registry
}

// TaskStarted records a freshly spawned worker for the named task.
func TaskStarted(task string) {
	if task == "" {
		return
	}
	tasksStarted.WithLabelValues(task).Inc()
	tasksRunning.Inc()
}

// TaskFinished records a worker exit and its wall-clock runtime.
func TaskFinished(task string, succeeded bool, d time.Duration) {
	if task == "" {
		return
	}
	result := "failure"
	if succeeded {
		result = "success"
	}
	tasksFinished.WithLabelValues(task, result).Inc()
	tasksRunning.Dec()
	if d > 0 {
		taskDuration.WithLabelValues(task).Observe(d.Seconds())
	}
}

// TaskKilled increments the kill counter for the named task.
func TaskKilled(task string) {
	if task == "" {
		return
	}
	tasksKilled.WithLabelValues(task).Inc()
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
