// Package app wires the resources every run of the emulator shares:
// the process logger and the prometheus container behind the control
// API.
package app

import (
	"github.com/rs/zerolog"

	"github.com/netmangle/netmangle"
)

type App struct {
	Logger  zerolog.Logger
	Metrics *netmangle.MetricsContainer
}

// NewApp builds the shared resources. The two flags choose which
// metric families the control API exports; the pipeline counters are
// collected either way.
func NewApp(exportPipelineMetrics, exportRuntimeMetrics bool) *App {
	return &App{
		Logger: newLogger(),
		Metrics: netmangle.NewMetricsContainer(
			exportPipelineMetrics, exportRuntimeMetrics),
	}
}
