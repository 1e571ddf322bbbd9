package core

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports Controller counters to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	workers       prometheus.Gauge
	idleWorkers   prometheus.Gauge
	workerStates  *prometheus.GaugeVec
	openTasks     prometheus.Gauge
	threadsToKill prometheus.Gauge
	readyQueue    prometheus.Gauge

	executed prometheus.Counter
	failures prometheus.Counter
	spawned  prometheus.Counter
	exited   prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "workers",
			Help:      "Number of live worker goroutines",
		}),
		idleWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "idle_workers",
			Help:      "Number of workers waiting for work",
		}),
		workerStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "worker_states",
			Help:      "Number of workers per worker state",
		}, []string{"state"}),
		openTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "open_parallel_tasks",
			Help:      "Executable messages not yet claimed by a worker",
		}),
		threadsToKill: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "threads_to_kill",
			Help:      "Pending cooperative worker exits",
		}),
		readyQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "ready_queue",
			Help:      "Actor states waiting for a worker",
		}),
		executed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "messages_executed_total",
			Help:      "Total number of executed messages",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "message_failures_total",
			Help:      "Total number of messages that panicked",
		}),
		spawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "workers_spawned_total",
			Help:      "Total number of started workers",
		}),
		exited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "workers_exited_total",
			Help:      "Total number of exited workers",
		}),
	}

	collectors := []prometheus.Collector{
		m.workers, m.idleWorkers, m.workerStates, m.openTasks, m.threadsToKill, m.readyQueue,
		m.executed, m.failures, m.spawned, m.exited,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) publish(workers, idle int, histogram []int, openTasks, threadsToKill int) {
	if m == nil {
		return
	}
	m.workers.Set(float64(workers))
	m.idleWorkers.Set(float64(idle))
	for i, n := range histogram {
		m.workerStates.WithLabelValues(WorkerState(i).String()).Set(float64(n))
	}
	m.openTasks.Set(float64(openTasks))
	m.threadsToKill.Set(float64(threadsToKill))
}

func (m *Metrics) setReadyQueue(n int) {
	if m == nil {
		return
	}
	m.readyQueue.Set(float64(n))
}

func (m *Metrics) messageExecuted(err error) {
	if m == nil {
		return
	}
	m.executed.Inc()
	var pe *PanicError
	if errors.As(err, &pe) {
		m.failures.Inc()
	}
}

func (m *Metrics) workerSpawned() {
	if m == nil {
		return
	}
	m.spawned.Inc()
}

func (m *Metrics) workerExited() {
	if m == nil {
		return
	}
	m.exited.Inc()
}
