package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/lifecycle"
	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/pkg/submission"
)

const namespace = "judge"

// ActiveCounter reports queue occupancy, e.g. store.Store.
type ActiveCounter interface {
	CountActive(ctx context.Context) (pending, assigned int, err error)
}

type BusyCounter interface {
	BusyWorkers() int
}

// Sources are sampled by Sample. Nil sources are skipped.
type Sources struct {
	Queue   ActiveCounter
	Workers BusyCounter
}

type Metrics struct {
	Transitions    *prometheus.CounterVec
	Verdicts       *prometheus.CounterVec
	Rejected       prometheus.Counter
	JudgeDuration  prometheus.Histogram
	QueuePending   prometheus.Gauge
	QueueAssigned  prometheus.Gauge
	BusyWorkers    prometheus.Gauge
	InternalErrors prometheus.Counter
	HostCPU        prometheus.Gauge
	HostMemoryUsed prometheus.Gauge

	logger *zap.SugaredLogger
}

// New registers the judge metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed submission transitions by resulting state",
		}, []string{"state"}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Terminal verdicts by status and language",
		}, []string{"status", "language"}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_busy_total",
			Help:      "Submissions rejected because the queue was full",
		}),
		JudgeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "judge_duration_seconds",
			Help:      "Time from submission to terminal verdict",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		QueuePending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Submissions waiting for a worker",
		}),
		QueueAssigned: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_assigned",
			Help:      "Submissions held by a worker",
		}),
		BusyWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "busy_workers",
			Help:      "Workers of this node processing a submission",
		}),
		InternalErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "internal_errors_total",
			Help:      "Submissions that ended in InternalError",
		}),
		HostCPU: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_usage_percent",
			Help:      "Total CPU usage of the judge host",
		}),
		HostMemoryUsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_used_bytes",
			Help:      "Used memory of the judge host",
		}),
		logger: logger.NewNamedLogger("metrics"),
	}
}

func (m *Metrics) OnTransition(_ context.Context, t lifecycle.Transition) {
	sub := t.Submission
	if !t.StateChanged() {
		return
	}
	m.Transitions.WithLabelValues(string(sub.State)).Inc()
	if !sub.State.IsTerminal() {
		return
	}
	m.Verdicts.WithLabelValues(string(sub.State), sub.LanguageID).Inc()
	if !sub.CreatedAt.IsZero() {
		m.JudgeDuration.Observe(sub.UpdatedAt.Sub(sub.CreatedAt).Seconds())
	}
	if sub.State == submission.StateInternalError {
		m.InternalErrors.Inc()
	}
}

// Sample refreshes the queue, worker and host gauges once.
func (m *Metrics) Sample(ctx context.Context, src Sources) {
	if src.Queue != nil {
		pending, assigned, err := src.Queue.CountActive(ctx)
		if err != nil {
			m.logger.Warnf("Failed to count active submissions: %s", err)
		} else {
			m.QueuePending.Set(float64(pending))
			m.QueueAssigned.Set(float64(assigned))
		}
	}
	if src.Workers != nil {
		m.BusyWorkers.Set(float64(src.Workers.BusyWorkers()))
	}

	if percent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percent) > 0 {
		m.HostCPU.Set(percent[0])
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.HostMemoryUsed.Set(float64(vm.Used))
	}
}

// Run samples every interval until ctx is done.
func (m *Metrics) Run(ctx context.Context, src Sources, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.Sample(ctx, src)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
