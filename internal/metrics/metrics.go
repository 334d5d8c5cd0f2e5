// Package metrics holds the Prometheus collectors of the API server. They are
// registered on the default registry and served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rewear"

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "auth",
	Name:      "failures_total",
	Help:      "Requests rejected by the credential verifier or role gate, by reason.",
}, []string{"reason"})

var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Points and swap operations by kind and result.",
}, []string{"op", "result"})

var MediaOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "media",
	Name:      "operations_total",
	Help:      "Media host uploads and deletes by result.",
}, []string{"op", "result"})

var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "events",
	Name:      "published_total",
	Help:      "Domain events handed to the message broker, by type and result.",
}, []string{"type", "result"})

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
