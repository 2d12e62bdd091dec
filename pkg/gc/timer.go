package gc

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Phase names one stage of a GC run for the cumulative phase timer.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseCollecting
	PhaseDeleting
	PhaseSorting
	PhaseSplitsCleanup
)

func (p Phase) String() string {
	switch p {
	case PhaseCollecting:
		return "collecting"
	case PhaseDeleting:
		return "deleting"
	case PhaseSorting:
		return "sorting"
	case PhaseSplitsCleanup:
		return "splits_cleanup"
	default:
		return "none"
	}
}

var allPhases = []Phase{PhaseCollecting, PhaseDeleting, PhaseSorting, PhaseSplitsCleanup}

// MarshalText renders the phase by name, so VersionGCStats.Timers encodes
// to JSON with readable keys instead of bare integers.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// phaseTimer accumulates wall-clock time per Phase across a single run. It
// supports nesting only in the trivial sense that starting a new phase
// stops whichever one was running; callers are expected to Start/Stop
// phases in sequence, not concurrently.
type phaseTimer struct {
	mu        sync.Mutex
	current   Phase
	startedAt time.Time
	totals    map[Phase]time.Duration
}

func newPhaseTimer() *phaseTimer {
	return &phaseTimer{current: PhaseNone, totals: make(map[Phase]time.Duration)}
}

// Start begins timing p, first stopping whatever phase was previously
// running.
func (t *phaseTimer) Start(p Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.current = p
	t.startedAt = time.Now()
}

// Stop stops the currently running phase, crediting its elapsed time.
func (t *phaseTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *phaseTimer) stopLocked() {
	if t.current == PhaseNone {
		return
	}
	t.totals[t.current] += time.Since(t.startedAt)
	t.current = PhaseNone
}

// Totals returns a copy of the accumulated per-phase durations.
func (t *phaseTimer) Totals() map[Phase]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Phase]time.Duration, len(t.totals))
	for k, v := range t.totals {
		out[k] = v
	}
	return out
}

// Metrics exports phase timings and run counters as Prometheus gauges,
// following the package-level collector registration convention: register
// once, update per run rather than per-request.
type Metrics struct {
	phaseSeconds   *prometheus.GaugeVec
	lastRunStats   *prometheus.GaugeVec
	runsTotal      prometheus.Counter
	cancelledTotal prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide GC metrics, registering its
// collectors with reg exactly once no matter how many times it's called.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		m := &Metrics{
			phaseSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "revisiongc",
				Name:      "phase_seconds",
				Help:      "Cumulative time spent in each GC phase during the most recent run.",
			}, []string{"phase"}),
			lastRunStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "revisiongc",
				Name:      "last_run",
				Help:      "Counters from the most recently completed GC run.",
			}, []string{"counter"}),
			runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "revisiongc",
				Name:      "runs_total",
				Help:      "Total number of GC runs started.",
			}),
			cancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "revisiongc",
				Name:      "runs_cancelled_total",
				Help:      "Total number of GC runs that observed cancellation.",
			}),
		}
		reg.MustRegister(m.phaseSeconds, m.lastRunStats, m.runsTotal, m.cancelledTotal)
		metricsInstance = m
	})
	return metricsInstance
}

// RunStarted increments the run counter.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsTotal.Inc()
}

// Observe publishes stats from a completed run.
func (m *Metrics) Observe(stats *VersionGCStats) {
	if m == nil || stats == nil {
		return
	}
	for _, p := range allPhases {
		m.phaseSeconds.WithLabelValues(p.String()).Set(stats.Timers[p].Seconds())
	}
	m.lastRunStats.WithLabelValues("deleted_docs").Set(float64(stats.DeletedDocGCCount))
	m.lastRunStats.WithLabelValues("deleted_leaf_docs").Set(float64(stats.DeletedLeafDocGCCount))
	m.lastRunStats.WithLabelValues("deleted_prev_docs").Set(float64(stats.DeletedPrevDocGCCount))
	m.lastRunStats.WithLabelValues("split_docs").Set(float64(stats.SplitDocGCCount))
	m.lastRunStats.WithLabelValues("intermediate_split_docs").Set(float64(stats.IntermediateSplitDocGCCount))
	m.lastRunStats.WithLabelValues("recreated").Set(float64(stats.RecreatedCount))
	m.lastRunStats.WithLabelValues("elapsed_seconds").Set(stats.Elapsed.Seconds())
	if stats.Canceled {
		m.cancelledTotal.Inc()
	}
}
