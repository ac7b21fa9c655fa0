// SPDX-License-Identifier: MIT

package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	persistResultOK     = "ok"
	persistResultFailed = "failed"
)

var (
	persistTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtrack_tracker_persist_total",
		Help: "Watch events submitted by trigger (interval|pause|end|close) and result",
	}, []string{"trigger", "result"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "watchtrack_tracker_sessions_active",
		Help: "Watch sessions currently open",
	})

	resumeSeeksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watchtrack_tracker_resume_seeks_total",
		Help: "Corrective seeks issued to apply a fetched resume time",
	})
)
