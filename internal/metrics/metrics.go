package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TradesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_trades_executed_total",
			Help: "Executed trades by bot and side.",
		},
		[]string{"bot", "side"},
	)

	SignalsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_signals_dropped_total",
			Help: "Signals not executed this tick, by bot and reason.",
		},
		[]string{"bot", "reason"},
	)

	DesyncRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_desync_repairs_total",
			Help: "Strategy state resets forced by a holdings desync.",
		},
		[]string{"bot"},
	)

	CycleResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_cycle_resets_total",
			Help: "Completed cycles reset after a full exit.",
		},
		[]string{"bot"},
	)

	CurrentLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridbot_current_level",
			Help: "Current ladder level per bot.",
		},
		[]string{"bot"},
	)

	EquityGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridbot_equity_usd",
			Help: "Available USD plus cost basis of open positions, per bot.",
		},
		[]string{"bot"},
	)

	BotsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_bots",
			Help: "Number of registered bot instances.",
		},
	)

	TicksDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridbot_ticks_dispatched_total",
			Help: "Price ticks fanned out to the bot manager.",
		},
	)

	// PersistenceFailures counts save attempts that failed, including retries.
	PersistenceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridbot_persistence_failures_total",
			Help: "Failed bot state save attempts.",
		},
	)

	// PersistenceDegraded is 1 while consecutive save failures exceed the configured threshold.
	PersistenceDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_persistence_degraded",
			Help: "1 when bot state persistence is in degraded mode.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TradesExecuted,
		SignalsDropped,
		DesyncRepairs,
		CycleResets,
		CurrentLevel,
		EquityGauge,
		BotsGauge,
		TicksDispatched,
		PersistenceFailures,
		PersistenceDegraded,
	)
}

// ForgetBot drops every per-bot series once a bot is deleted.
func ForgetBot(botID string) {
	labels := prometheus.Labels{"bot": botID}
	TradesExecuted.DeletePartialMatch(labels)
	SignalsDropped.DeletePartialMatch(labels)
	DesyncRepairs.DeletePartialMatch(labels)
	CycleResets.DeletePartialMatch(labels)
	CurrentLevel.DeletePartialMatch(labels)
	EquityGauge.DeletePartialMatch(labels)
}
