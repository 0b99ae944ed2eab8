// Package metrics exposes the Prometheus registry for the governance agent.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Agent is the lazily-initialised metrics registry tracking scheduler
// activity, decode/fetch/review outcomes, LLM calls, and votes cast.
type Agent struct {
	ticks          prometheus.Counter
	tickErrors     prometheus.Counter
	decodeOutcomes *prometheus.CounterVec
	fetchFailures  *prometheus.CounterVec
	llmCalls       *prometheus.CounterVec
	llmLatency     *prometheus.HistogramVec
	decisions      *prometheus.CounterVec
	votesCast      *prometheus.CounterVec
	staleListener  prometheus.Gauge
}

var (
	once     sync.Once
	registry *Agent
)

// Registry returns the process-wide agent metrics registry.
func Registry() *Agent {
	once.Do(func() {
		registry = &Agent{
			ticks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "govagent",
				Name:      "scheduler_ticks_total",
				Help:      "Count of scheduler ticks executed.",
			}),
			tickErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "govagent",
				Name:      "scheduler_tick_errors_total",
				Help:      "Count of scheduler ticks that returned an error.",
			}),
			decodeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "govagent",
				Subsystem: "decoder",
				Name:      "outcomes_total",
				Help:      "Proposal decode outcomes by action kind.",
			}, []string{"kind"}),
			fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "govagent",
				Subsystem: "bundle",
				Name:      "fetch_failures_total",
				Help:      "Bundle fetch failures segmented by gateway.",
			}, []string{"gateway"}),
			llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "govagent",
				Subsystem: "llm",
				Name:      "calls_total",
				Help:      "LLM provider calls segmented by provider and outcome.",
			}, []string{"provider", "outcome"}),
			llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "govagent",
				Subsystem: "llm",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for LLM provider requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider"}),
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "govagent",
				Subsystem: "decision",
				Name:      "recommendations_total",
				Help:      "Decision engine recommendations by vote.",
			}, []string{"vote"}),
			votesCast: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "govagent",
				Subsystem: "vote",
				Name:      "cast_total",
				Help:      "On-chain votes submitted by support value.",
			}, []string{"support", "outcome"}),
			staleListener: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "govagent",
				Subsystem: "chain",
				Name:      "stale_listener",
				Help:      "1 when the chain adapter has observed three consecutive poll failures.",
			}),
		}
		prometheus.MustRegister(
			registry.ticks,
			registry.tickErrors,
			registry.decodeOutcomes,
			registry.fetchFailures,
			registry.llmCalls,
			registry.llmLatency,
			registry.decisions,
			registry.votesCast,
			registry.staleListener,
		)
	})
	return registry
}

func (a *Agent) Tick(err error) {
	if a == nil {
		return
	}
	a.ticks.Inc()
	if err != nil {
		a.tickErrors.Inc()
	}
}

func (a *Agent) DecodeOutcome(kind string) {
	if a == nil {
		return
	}
	a.decodeOutcomes.WithLabelValues(kind).Inc()
}

func (a *Agent) FetchFailure(gateway string) {
	if a == nil {
		return
	}
	a.fetchFailures.WithLabelValues(gateway).Inc()
}

func (a *Agent) LLMCall(provider, outcome string, latencySeconds float64) {
	if a == nil {
		return
	}
	a.llmCalls.WithLabelValues(provider, outcome).Inc()
	a.llmLatency.WithLabelValues(provider).Observe(latencySeconds)
}

func (a *Agent) Decision(vote string) {
	if a == nil {
		return
	}
	a.decisions.WithLabelValues(vote).Inc()
}

func (a *Agent) VoteCast(support, outcome string) {
	if a == nil {
		return
	}
	a.votesCast.WithLabelValues(support, outcome).Inc()
}

func (a *Agent) SetStaleListener(stale bool) {
	if a == nil {
		return
	}
	if stale {
		a.staleListener.Set(1)
		return
	}
	a.staleListener.Set(0)
}
