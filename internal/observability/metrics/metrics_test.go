package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPipelineMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)
	m.ObserveInbound("telegram", "manager")
	m.ObserveReceived("client")
	m.ObserveProcessed("client", "advanced")
	m.ObserveOutbound("whatsapp", "sent")
	m.ObserveExtractionLatency("full", 0.5)
	m.ObserveTransition("greet", "collect_items")
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveInbound("telegram", "manager")
	m.ObserveReceived("client")
	m.ObserveProcessed("client", "advanced")
	m.ObserveOutbound("whatsapp", "sent")
	m.ObserveExtractionLatency("full", 0.1)
	m.ObserveTransition("greet", "collect_items")
}
