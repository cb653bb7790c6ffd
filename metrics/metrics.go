// Package metrics instruments the task runners and module loader with
// Prometheus counters/gauges, grounded on mchmarny-cloud-native-stack and
// yesoreyeram-thaiyyal's direct use of client_golang for their own
// operational metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the metrics this module emits. Construct one with New
// and register it with a prometheus.Registerer (the process default or a
// test-local one).
type Registry struct {
	TasksPosted    *prometheus.CounterVec
	TasksRun       *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec
	ModulesLoaded  *prometheus.CounterVec
	SnapshotsTaken prometheus.Counter
}

// New constructs a Registry with its metrics registered against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		TasksPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsapp",
			Subsystem: "taskrunner",
			Name:      "tasks_posted_total",
			Help:      "Tasks posted to a foreground runner or worker pool.",
		}, []string{"queue"}),
		TasksRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsapp",
			Subsystem: "taskrunner",
			Name:      "tasks_run_total",
			Help:      "Tasks dequeued and run.",
		}, []string{"queue"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jsapp",
			Subsystem: "taskrunner",
			Name:      "queue_depth",
			Help:      "Current number of pending tasks.",
		}, []string{"queue"}),
		ModulesLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsapp",
			Subsystem: "moduleloader",
			Name:      "modules_loaded_total",
			Help:      "Modules successfully resolved and loaded.",
		}, []string{"type"}),
		SnapshotsTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jsapp",
			Subsystem: "snapshot",
			Name:      "snapshots_taken_total",
			Help:      "Completed App snapshot emissions.",
		}),
	}
	reg.MustRegister(m.TasksPosted, m.TasksRun, m.QueueDepth, m.ModulesLoaded, m.SnapshotsTaken)
	return m
}
