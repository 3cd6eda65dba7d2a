// Package metrics holds the Prometheus collectors shared by the transport
// and adapter packages.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transportCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nfcbinder",
			Subsystem: "transport",
			Name:      "calls_total",
			Help:      "Transport calls by backend, operation and outcome.",
		},
		[]string{"backend", "op", "outcome"},
	)
	transportPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nfcbinder",
			Subsystem: "transport",
			Name:      "pushes_total",
			Help:      "Inbound pushes by backend and kind.",
		},
		[]string{"backend", "kind"},
	)
	powerChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nfcbinder",
			Subsystem: "adapter",
			Name:      "power_changes_total",
			Help:      "Adapter power state notifications.",
		},
		[]string{"state", "requested"},
	)
	powered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nfcbinder",
			Subsystem: "adapter",
			Name:      "powered",
			Help:      "1 while the adapter is powered on.",
		},
	)
)

// Call outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeRemoteError    = "remote_error"
	OutcomeProtocolError  = "protocol_error"
	OutcomeDispatchFailed = "dispatch_failed"
	OutcomeCancelled      = "cancelled"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(transportCalls, transportPushes, powerChanges, powered)
	})
}

func RecordCall(backend, op, outcome string) {
	RegisterMetrics()
	transportCalls.WithLabelValues(backend, op, outcome).Inc()
}

func RecordPush(backend, kind string) {
	RegisterMetrics()
	transportPushes.WithLabelValues(backend, kind).Inc()
}

func RecordPowerChange(on, requested bool) {
	RegisterMetrics()
	state := "off"
	if on {
		state = "on"
		powered.Set(1)
	} else {
		powered.Set(0)
	}
	powerChanges.WithLabelValues(state, strconv.FormatBool(requested)).Inc()
}
