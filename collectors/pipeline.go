package collectors

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "netmangle"

// Drop reasons used as the "reason" label on DroppedFramesTotal.
const (
	DropOverflow   = "overflow"
	DropLoss       = "loss"
	DropReadError  = "read_error"
	DropWriteError = "write_error"
)

type PipelineMetricCollectors struct {
	collectors      []prometheus.Collector
	directionLabels []string

	ReceivedFramesTotal  *prometheus.CounterVec
	ForwardedFramesTotal *prometheus.CounterVec
	ForwardedBytesTotal  *prometheus.CounterVec
	DroppedFramesTotal   *prometheus.CounterVec
	QueueDepth           *prometheus.GaugeVec
}

func (c *PipelineMetricCollectors) Collectors() []prometheus.Collector {
	return c.collectors
}

func NewPipelineMetricCollectors() *PipelineMetricCollectors {
	var m PipelineMetricCollectors
	m.directionLabels = []string{"direction"}

	m.ReceivedFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "received_frames_total",
		},
		m.directionLabels)
	m.collectors = append(m.collectors, m.ReceivedFramesTotal)

	m.ForwardedFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "forwarded_frames_total",
		},
		m.directionLabels)
	m.collectors = append(m.collectors, m.ForwardedFramesTotal)

	m.ForwardedBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "forwarded_bytes_total",
		},
		m.directionLabels)
	m.collectors = append(m.collectors, m.ForwardedBytesTotal)

	m.DroppedFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "dropped_frames_total",
		},
		append(m.directionLabels, "reason"))
	m.collectors = append(m.collectors, m.DroppedFramesTotal)

	m.QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queue_depth",
		},
		m.directionLabels)
	m.collectors = append(m.collectors, m.QueueDepth)

	return &m
}
