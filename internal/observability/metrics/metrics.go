package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the message pipeline.
// A nil receiver is a no-op, so components can take metrics optionally.
type PipelineMetrics struct {
	inboundTotal       *prometheus.CounterVec
	processedTotal     *prometheus.CounterVec
	outboundTotal      *prometheus.CounterVec
	extractionLatency  *prometheus.HistogramVec
	transitionsTotal   *prometheus.CounterVec
	queueDepthReceived *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "napoleon",
			Subsystem: "ingress",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound chat webhooks",
		}, []string{"channel", "lane"}),
		processedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "napoleon",
			Subsystem: "pipeline",
			Name:      "processed_total",
			Help:      "Total lane tasks processed",
		}, []string{"lane", "outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "napoleon",
			Subsystem: "pipeline",
			Name:      "outbound_total",
			Help:      "Total outbound chat replies",
		}, []string{"channel", "status"}),
		extractionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "napoleon",
			Subsystem: "pipeline",
			Name:      "extraction_latency_seconds",
			Help:      "Latency of structured extraction calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "napoleon",
			Subsystem: "conversation",
			Name:      "transitions_total",
			Help:      "Total conversation state transitions",
		}, []string{"from", "to"}),
		queueDepthReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "napoleon",
			Subsystem: "pipeline",
			Name:      "received_total",
			Help:      "Total lane deliveries received",
		}, []string{"lane"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.processedTotal, m.outboundTotal,
		m.extractionLatency, m.transitionsTotal, m.queueDepthReceived)
	return m
}

func (m *PipelineMetrics) ObserveInbound(channel, lane string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(channel, lane).Inc()
}

func (m *PipelineMetrics) ObserveProcessed(lane, outcome string) {
	if m == nil {
		return
	}
	m.processedTotal.WithLabelValues(lane, outcome).Inc()
}

func (m *PipelineMetrics) ObserveOutbound(channel, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(channel, status).Inc()
}

func (m *PipelineMetrics) ObserveExtractionLatency(scope string, seconds float64) {
	if m == nil {
		return
	}
	m.extractionLatency.WithLabelValues(scope).Observe(seconds)
}

func (m *PipelineMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *PipelineMetrics) ObserveReceived(lane string) {
	if m == nil {
		return
	}
	m.queueDepthReceived.WithLabelValues(lane).Inc()
}
