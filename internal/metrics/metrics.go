// Package metrics holds the Prometheus collectors exported by the sync engine.
//
// Collectors are package-level so every provider in a process reports into
// the same series. Nothing is registered until Register is called.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docsync"

// UpdatesApplied counts remote records merged into a local document.
// source is "snapshot", "history", or "realtime".
var UpdatesApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "provider",
	Name:      "updates_applied_total",
}, []string{"source"})

// UpdatesRejected counts remote records that were skipped.
// reason is "oversized", "malformed", or "apply_failed".
var UpdatesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "provider",
	Name:      "updates_rejected_total",
}, []string{"reason"})

// UpdatesPublished counts local deltas handed to the store.
// result is "ok", "failed", or "oversized".
var UpdatesPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "provider",
	Name:      "updates_published_total",
}, []string{"result"})

// Compactions counts compaction attempts by outcome:
// "skipped", "compacted", "partial", or "failed".
var Compactions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "provider",
	Name:      "compactions_total",
}, []string{"result"})

// CompactionDeleted counts update records removed by compaction.
var CompactionDeleted = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "provider",
	Name:      "compaction_deleted_total",
})

// ProvidersConnected is the number of providers currently connected.
var ProvidersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "registry",
	Name:      "providers_connected",
})

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		UpdatesApplied,
		UpdatesRejected,
		UpdatesPublished,
		Compactions,
		CompactionDeleted,
		ProvidersConnected,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the collectors registered on gatherer in the text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
