// Package metrics exposes Prometheus counters for pipeline outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// URLsSucceeded counts individual records fetched successfully,
	// including records discovered on search pages.
	URLsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_urls_succeeded_total",
		Help: "The total number of records fetched successfully.",
	})
	// URLsFailed counts terminal per-URL failures not classified as blocks.
	URLsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_urls_failed_total",
		Help: "The total number of URLs that failed after retries.",
	})
	// URLsBlocked counts terminal results carrying a 403/429 block signal.
	URLsBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_urls_blocked_total",
		Help: "The total number of URLs blocked by the source.",
	})
	// URLsSkipped counts URLs rejected by the compliance gate.
	URLsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_urls_skipped_total",
		Help: "The total number of URLs skipped by compliance checks.",
	})
	// StoreRewrites counts full load-merge-rewrite cycles on the record store.
	StoreRewrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_store_rewrites_total",
		Help: "The total number of full record store rewrites.",
	})
	// StoreDegradedLoads counts loads that fell back to positional header
	// inference on a headerless file.
	StoreDegradedLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_store_degraded_loads_total",
		Help: "The total number of store loads in degraded headerless mode.",
	})
	// LockWaitExceeded counts lock acquisitions that hit the wait ceiling
	// and proceeded anyway.
	LockWaitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_store_lock_wait_exceeded_total",
		Help: "The total number of store writes that proceeded without the lock.",
	})
)
