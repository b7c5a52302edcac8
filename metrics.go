package netmangle

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promcollectors "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netmangle/netmangle/collectors"
)

// MetricsContainer owns the prometheus registry behind the control
// API's /metrics route. The pipeline collectors always exist because
// the endpoints increment them unconditionally; the export flags only
// decide what the registry serves.
type MetricsContainer struct {
	Pipeline *collectors.PipelineMetricCollectors

	registry       *prometheus.Registry
	exportPipeline bool
	exportRuntime  bool
}

// NewMetricsContainer builds the pipeline collectors and registers the
// requested metric families on a dedicated registry.
func NewMetricsContainer(exportPipeline, exportRuntime bool) *MetricsContainer {
	m := &MetricsContainer{
		Pipeline:       collectors.NewPipelineMetricCollectors(),
		registry:       prometheus.NewRegistry(),
		exportPipeline: exportPipeline,
		exportRuntime:  exportRuntime,
	}
	if exportPipeline {
		m.registry.MustRegister(m.Pipeline.Collectors()...)
	}
	if exportRuntime {
		m.registry.MustRegister(
			promcollectors.NewGoCollector(),
			promcollectors.NewBuildInfoCollector(),
			promcollectors.NewProcessCollector(promcollectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// exportsAny reports whether /metrics would serve anything at all.
func (m *MetricsContainer) exportsAny() bool {
	return m.exportPipeline || m.exportRuntime
}

func (m *MetricsContainer) handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
