// SPDX-License-Identifier: MIT

package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "watchtrack_circuit_breaker_state",
		Help: "Circuit breaker state per component (1 for the active state)",
	}, []string{"component", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtrack_circuit_breaker_trips_total",
		Help: "Times a circuit breaker opened, by reason",
	}, []string{"component", "reason"})
)

func setStateMetric(component string, state State) {
	for _, s := range []State{StateClosed, StateOpen, StateHalfOpen} {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(component, string(s)).Set(v)
	}
}

func recordTrip(component, reason string) {
	breakerTrips.WithLabelValues(component, reason).Inc()
}
