package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

// Consumer outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// Collector owns a private registry. A nil *Collector records nothing.
type Collector struct {
	registry         *prometheus.Registry
	commands         *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	concurrencyRetry *prometheus.CounterVec
	eventsDispatched *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	consumerMessages *prometheus.CounterVec
	outboxPublished  prometheus.Counter
	outboxFailed     prometheus.Counter
	outboxPending    prometheus.Gauge
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled, by command and outcome.",
		}, []string{"command", "outcome"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time taken to handle a command including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		concurrencyRetry: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_retries_total",
			Help:      "Operations retried after an optimistic concurrency conflict.",
		}, []string{"operation"}),
		eventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_events_dispatched_total",
			Help:      "Domain events dispatched after commit.",
		}, []string{"event"}),
		dispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_event_dispatch_failures_total",
			Help:      "Domain event subscriber failures.",
		}, []string{"event"}),
		consumerMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_messages_total",
			Help:      "Integration events consumed, by type and outcome.",
		}, []string{"type", "outcome"}),
		outboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox messages published to the broker.",
		}),
		outboxFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_failures_total",
			Help:      "Outbox publish attempts that failed.",
		}),
		outboxPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Outbox messages not yet published.",
		}),
	}
}

func (c *Collector) CommandHandled(command, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(command, outcome).Inc()
	c.commandDuration.WithLabelValues(command).Observe(took.Seconds())
}

func (c *Collector) ConcurrencyRetry(operation string) {
	if c == nil {
		return
	}
	c.concurrencyRetry.WithLabelValues(operation).Inc()
}

func (c *Collector) EventDispatched(name string) {
	if c == nil {
		return
	}
	c.eventsDispatched.WithLabelValues(name).Inc()
}

func (c *Collector) DispatchFailed(name string) {
	if c == nil {
		return
	}
	c.dispatchFailures.WithLabelValues(name).Inc()
}

func (c *Collector) MessageConsumed(eventType, outcome string) {
	if c == nil {
		return
	}
	c.consumerMessages.WithLabelValues(eventType, outcome).Inc()
}

func (c *Collector) OutboxPublished() {
	if c == nil {
		return
	}
	c.outboxPublished.Inc()
}

func (c *Collector) OutboxFailed() {
	if c == nil {
		return
	}
	c.outboxFailed.Inc()
}

func (c *Collector) OutboxPending(n int64) {
	if c == nil {
		return
	}
	c.outboxPending.Set(float64(n))
}

// Registry exposes the registry for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
