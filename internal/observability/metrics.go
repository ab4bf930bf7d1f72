// Package observability provides per-run metrics for sitedeploy.
package observability

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	"github.com/relicta-tech/sitedeploy/internal/pipeline"
)

const namespace = "sitedeploy"

// Metrics collects the metrics of one deploy run. A deploy is a short-lived
// process, so the metrics are written to node-exporter textfiles at the end
// of the run instead of being served. Each target gets its own files, and a
// run refused by the lock goes to a separate file, so neither clobbers the
// gauges of the last real deploy.
type Metrics struct {
	runs    *prometheus.Registry
	locks   *prometheus.Registry
	now     func() time.Time
	version string

	mu         sync.Mutex
	mode       deploy.Mode
	ran        bool
	conflicted bool

	info          *prometheus.GaugeVec
	stepDuration  *prometheus.HistogramVec
	stepsTotal    *prometheus.CounterVec
	runDuration   *prometheus.GaugeVec
	runSuccess    *prometheus.GaugeVec
	runTimestamp  *prometheus.GaugeVec
	lockConflicts *prometheus.GaugeVec
}

// NewMetrics creates a Metrics with its own registries.
func NewMetrics(version string) *Metrics {
	m := &Metrics{
		runs:    prometheus.NewRegistry(),
		locks:   prometheus.NewRegistry(),
		now:     time.Now,
		version: version,
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Build information of the last deploy run.",
		}, []string{"version", "target"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Duration of pipeline steps, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 3, 8), // top bucket ~= 4 minutes
		}, []string{"target", "step", "outcome"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "steps_total",
			Help:      "Pipeline steps attempted, by outcome.",
		}, []string{"target", "step", "outcome"}),
		runDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Duration of the last deploy run, in seconds.",
		}, []string{"target"}),
		runSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "success",
			Help:      "Whether the last deploy run succeeded.",
		}, []string{"target"}),
		runTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "timestamp_seconds",
			Help:      "Unix time the last deploy run finished.",
		}, []string{"target"}),
		lockConflicts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "conflict_timestamp_seconds",
			Help:      "Unix time of the last run refused because another run held the deploy lock.",
		}, []string{"target"}),
	}

	m.runs.MustRegister(
		m.info,
		m.stepDuration,
		m.stepsTotal,
		m.runDuration,
		m.runSuccess,
		m.runTimestamp,
	)
	m.locks.MustRegister(m.lockConflicts)
	return m
}

var _ pipeline.Observer = (*Metrics)(nil)

// ObserveStep records one finished pipeline step.
func (m *Metrics) ObserveStep(target deploy.Target, result pipeline.StepResult) {
	labels := prometheus.Labels{
		"target":  target.Mode.String(),
		"step":    string(result.Name),
		"outcome": string(result.Outcome),
	}
	m.stepsTotal.With(labels).Inc()
	if result.Outcome != deploy.OutcomeSkipped {
		m.stepDuration.With(labels).Observe(result.Duration.Seconds())
	}
}

// RecordRun records the end of a deploy run that held the lock.
func (m *Metrics) RecordRun(target deploy.Target, success bool, duration time.Duration) {
	mode := target.Mode.String()
	m.info.WithLabelValues(m.version, mode).Set(1)
	m.runDuration.WithLabelValues(mode).Set(duration.Seconds())
	m.runTimestamp.WithLabelValues(mode).Set(float64(m.now().Unix()))
	if success {
		m.runSuccess.WithLabelValues(mode).Set(1)
	} else {
		m.runSuccess.WithLabelValues(mode).Set(0)
	}

	m.mu.Lock()
	m.mode, m.ran = target.Mode, true
	m.mu.Unlock()
}

// RecordLockConflict records a run refused by the deploy lock.
func (m *Metrics) RecordLockConflict(target deploy.Target) {
	m.lockConflicts.WithLabelValues(target.Mode.String()).Set(float64(m.now().Unix()))

	m.mu.Lock()
	m.mode, m.conflicted = target.Mode, true
	m.mu.Unlock()
}

// WriteTextfiles writes what was recorded next to base, atomically and in
// the Prometheus text format. A finished run goes to RunTextfile and a lock
// conflict to ConflictTextfile. Nothing is written when nothing was
// recorded.
func (m *Metrics) WriteTextfiles(base string) error {
	m.mu.Lock()
	mode, ran, conflicted := m.mode, m.ran, m.conflicted
	m.mu.Unlock()

	if ran {
		if err := prometheus.WriteToTextfile(RunTextfile(base, mode), m.runs); err != nil {
			return err
		}
	}
	if conflicted {
		if err := prometheus.WriteToTextfile(ConflictTextfile(base, mode), m.locks); err != nil {
			return err
		}
	}
	return nil
}

// RunTextfile returns the run textfile for mode. For a base of
// "/var/lib/node_exporter/sitedeploy.prom" and staging it is
// "/var/lib/node_exporter/sitedeploy_staging.prom".
func RunTextfile(base string, mode deploy.Mode) string {
	return textfileName(base, mode.String())
}

// ConflictTextfile returns the lock conflict textfile for mode.
func ConflictTextfile(base string, mode deploy.Mode) string {
	return textfileName(base, mode.String()+"_lock")
}

func textfileName(base, suffix string) string {
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".prom"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_" + suffix + ext
}
