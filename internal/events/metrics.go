package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors bus traffic into Prometheus collectors. It subscribes to
// the tool and usage topics and stays attached for the process lifetime.
type Metrics struct {
	toolCalls    *prometheus.CounterVec
	toolFailures *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	llmTokens    *prometheus.CounterVec

	subs []*Subscription
}

// NewMetrics registers the collectors on reg and attaches to bus.
func NewMetrics(reg prometheus.Registerer, bus *Bus) *Metrics {
	m := &Metrics{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solagent",
			Name:      "tool_calls_total",
			Help:      "Tool invocations dispatched through the pipeline.",
		}, []string{"tool"}),
		toolFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solagent",
			Name:      "tool_failures_total",
			Help:      "Tool invocations that produced an error result.",
		}, []string{"tool", "kind"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "solagent",
			Name:      "tool_duration_seconds",
			Help:      "Tool handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solagent",
			Name:      "llm_tokens_total",
			Help:      "Model tokens consumed, split by direction.",
		}, []string{"model", "direction"}),
	}
	reg.MustRegister(m.toolCalls, m.toolFailures, m.toolDuration, m.llmTokens)

	m.subs = append(m.subs,
		bus.Subscribe(TopicToolCalled, m.onToolCalled),
		bus.Subscribe(TopicToolSucceeded, m.onToolSucceeded),
		bus.Subscribe(TopicToolFailed, m.onToolFailed),
		bus.Subscribe(TopicLLMUsage, m.onUsage),
	)
	return m
}

// Detach unsubscribes all collectors from the bus.
func (m *Metrics) Detach() {
	for _, s := range m.subs {
		s.Unsubscribe()
	}
}

func (m *Metrics) onToolCalled(evt Event) {
	if p, ok := evt.Payload.(ToolCalled); ok {
		m.toolCalls.WithLabelValues(p.Tool).Inc()
	}
}

func (m *Metrics) onToolSucceeded(evt Event) {
	if p, ok := evt.Payload.(ToolSucceeded); ok {
		m.toolDuration.WithLabelValues(p.Tool).Observe(p.Duration.Seconds())
	}
}

func (m *Metrics) onToolFailed(evt Event) {
	if p, ok := evt.Payload.(ToolFailed); ok {
		m.toolFailures.WithLabelValues(p.Tool, p.ErrorKind).Inc()
		m.toolDuration.WithLabelValues(p.Tool).Observe(p.Duration.Seconds())
	}
}

func (m *Metrics) onUsage(evt Event) {
	if p, ok := evt.Payload.(LLMUsage); ok {
		m.llmTokens.WithLabelValues(p.Model, "input").Add(float64(p.InputTokens))
		m.llmTokens.WithLabelValues(p.Model, "output").Add(float64(p.OutputTokens))
	}
}
