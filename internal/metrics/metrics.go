package metrics

import (
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
)

const namespace = "voxreview_relay"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	stageMessages      *promclient.CounterVec
	stageDuration      *promclient.HistogramVec
	attemptTransitions *promclient.CounterVec
	connectorDuration  *promclient.HistogramVec
	gateTransitions    *promclient.CounterVec
	regenerations      *promclient.CounterVec
	lowConfidence      promclient.Counter
	scheduleMoved      promclient.Counter
}

// New registers the collectors on reg (the default registerer when nil).
// Registering twice returns the already registered collectors.
func New(reg promclient.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	m := &Metrics{}
	var err error

	if m.stageMessages, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "stage_messages_total",
		Help:      "Queue messages handled per stage and outcome (ok, error).",
	}, []string{"task_type", "outcome"})); err != nil {
		return nil, err
	}
	if m.stageDuration, err = register(reg, promclient.NewHistogramVec(promclient.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Time spent handling one queue message.",
		Buckets:   promclient.DefBuckets,
	}, []string{"task_type"})); err != nil {
		return nil, err
	}
	if m.attemptTransitions, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "posting_attempt_transitions_total",
		Help:      "Posting attempt state transitions per platform.",
	}, []string{"platform", "to_state"})); err != nil {
		return nil, err
	}
	if m.connectorDuration, err = register(reg, promclient.NewHistogramVec(promclient.HistogramOpts{
		Namespace: namespace,
		Name:      "connector_request_duration_seconds",
		Help:      "Latency of platform connector calls.",
		Buckets:   promclient.DefBuckets,
	}, []string{"platform", "operation", "outcome"})); err != nil {
		return nil, err
	}
	if m.gateTransitions, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "approval_transitions_total",
		Help:      "Approval gate transition attempts; outcome is won or lost.",
	}, []string{"subject_kind", "to_status", "outcome"})); err != nil {
		return nil, err
	}
	if m.regenerations, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "synthesis_regenerations_total",
		Help:      "Generated texts discarded by validation, by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if m.lowConfidence, err = register(reg, promclient.NewCounter(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "responses_low_confidence_total",
		Help:      "Responses that fell back to the template and need manual review.",
	})); err != nil {
		return nil, err
	}
	if m.scheduleMoved, err = register(reg, promclient.NewCounter(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_schedule_moved_total",
		Help:      "Posting attempts moved from the schedule onto the dispatch stream.",
	})); err != nil {
		return nil, err
	}

	return m, nil
}

func register[T promclient.Collector](reg promclient.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are promclient.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

func (m *Metrics) StageHandled(taskType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageMessages.WithLabelValues(taskType, outcome).Inc()
	m.stageDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

func (m *Metrics) AttemptTransition(platform, toState string) {
	if m == nil {
		return
	}
	m.attemptTransitions.WithLabelValues(platform, toState).Inc()
}

func (m *Metrics) ConnectorCall(platform, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.connectorDuration.WithLabelValues(platform, operation, outcome).Observe(d.Seconds())
}

func (m *Metrics) GateTransition(subjectKind, toStatus string, won bool) {
	if m == nil {
		return
	}
	outcome := "lost"
	if won {
		outcome = "won"
	}
	m.gateTransitions.WithLabelValues(subjectKind, toStatus, outcome).Inc()
}

func (m *Metrics) Regeneration(reason string) {
	if m == nil {
		return
	}
	m.regenerations.WithLabelValues(reason).Inc()
}

func (m *Metrics) LowConfidenceResponse() {
	if m == nil {
		return
	}
	m.lowConfidence.Inc()
}

func (m *Metrics) ScheduleMoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.scheduleMoved.Add(float64(n))
}
