// SPDX-License-Identifier: MIT

package watchevents

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	opCreate = "create"
	opResume = "resume"

	resultOK           = "ok"
	resultUnauthorized = "unauthorized"
	resultNotFound     = "not_found"
	resultRejected     = "rejected"
	resultUnavailable  = "unavailable"
	resultServerError  = "server_error"
	resultBadResponse  = "bad_response"
	resultTimeout      = "timeout"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtrack_watchevents_requests_total",
		Help: "Watch-event backend requests by operation and result",
	}, []string{"op", "result"})

	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "watchtrack_watchevents_request_duration_seconds",
		Help:    "Latency of watch-event backend requests",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"op"})
)

func observeRequest(op string, err error, seconds float64) {
	requestsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	requestSeconds.WithLabelValues(op).Observe(seconds)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, ErrUnauthorized):
		return resultUnauthorized
	case errors.Is(err, ErrNotFound):
		return resultNotFound
	case errors.Is(err, ErrTimeout):
		return resultTimeout
	case errors.Is(err, ErrUpstreamUnavailable):
		return resultUnavailable
	case errors.Is(err, ErrUpstreamError):
		return resultServerError
	case errors.Is(err, ErrBadResponse):
		return resultBadResponse
	default:
		return resultRejected
	}
}
