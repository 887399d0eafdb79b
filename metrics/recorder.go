package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "attrcat"

// Stage names used as label values.
const (
	StageConsolidate = "consolidate"
	StageEmbed       = "embed"
	StageIndex       = "index"
	StageUpsert      = "upsert"
	StageQuery       = "query"
)

// Outcome label values.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeSucceeded = "succeeded"
	OutcomeReused    = "reused"
	OutcomeFailed    = "failed"
	OutcomeInserted  = "inserted"
	OutcomeUpdated   = "updated"
	OutcomeSkipped   = "skipped"
	OutcomeTransient = "transient"
)

// Recorder records pipeline counters and stage durations.
type Recorder struct {
	records       *prometheus.CounterVec
	entities      *prometheus.CounterVec
	providerCalls *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

// NewRecorder creates a Recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Source records read per feed, by outcome",
		}, []string{"feed", "outcome"}),
		entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_total",
			Help:      "Canonical entities handled per stage, by outcome",
		}, []string{"stage", "outcome"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Embedding provider calls, by outcome",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each pipeline stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"stage"}),
	}

	for _, c := range []prometheus.Collector{r.records, r.entities, r.providerCalls, r.stageDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return r, nil
}

// Records adds n source records for feed with the given outcome.
func (r *Recorder) Records(feed, outcome string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.records.WithLabelValues(feed, outcome).Add(float64(n))
}

// Entities adds n entities for stage with the given outcome.
func (r *Recorder) Entities(stage, outcome string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.entities.WithLabelValues(stage, outcome).Add(float64(n))
}

// ProviderCall counts one embedding provider call.
func (r *Recorder) ProviderCall(outcome string) {
	if r == nil {
		return
	}
	r.providerCalls.WithLabelValues(outcome).Inc()
}

// ObserveStage records the time elapsed since start for stage.
func (r *Recorder) ObserveStage(stage string, start time.Time) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
