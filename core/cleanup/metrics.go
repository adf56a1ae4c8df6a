package cleanup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masomo",
		Subsystem: "cleanup",
		Name:      "runs_total",
		Help:      "Completed device cleanup sweeps.",
	})
	deactivatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masomo",
		Subsystem: "cleanup",
		Name:      "deactivated_devices_total",
		Help:      "Devices deactivated for inactivity.",
	})
	failuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masomo",
		Subsystem: "cleanup",
		Name:      "school_failures_total",
		Help:      "School sweeps that failed.",
	})
)
