package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// admission outcomes
const (
	outcomeAdmitted = "admitted"
	outcomeDenied   = "denied"
	outcomeFailOpen = "fail_open"
)

var (
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masomo",
		Subsystem: "devices",
		Name:      "admissions_total",
		Help:      "Device admission decisions by outcome.",
	}, []string{"outcome", "family"})

	deactivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masomo",
		Subsystem: "devices",
		Name:      "deactivations_total",
		Help:      "Devices deactivated, by removal reason.",
	}, []string{"reason"})
)
