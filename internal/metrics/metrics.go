// Package metrics registers the Prometheus instruments the pipeline and
// dispatcher increment.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frictionwatch_ticks_total",
		Help: "Completed scan ticks.",
	})

	TickErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frictionwatch_tick_errors_total",
		Help: "Scan ticks that failed.",
	})

	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frictionwatch_signals_total",
		Help: "Friction signals recorded, by signal type.",
	}, []string{"type"})

	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frictionwatch_alerts_sent_total",
		Help: "Alerts delivered, by channel.",
	}, []string{"channel"})

	AlertsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frictionwatch_alerts_suppressed_total",
		Help: "Alerts suppressed before delivery, by reason.",
	}, []string{"reason"})

	SymbolsScanned = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frictionwatch_symbols_scanned",
		Help: "Symbols surviving the risk filter in the latest tick.",
	})
)
