package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masomo",
		Subsystem: "sessions",
		Name:      "transitions_total",
		Help:      "Live sessions entering each status.",
	}, []string{"status"})

	joinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masomo",
		Subsystem: "sessions",
		Name:      "joins_total",
		Help:      "Roster entries appended to live sessions.",
	})
)
