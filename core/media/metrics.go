package media

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "masomo",
		Subsystem: "media",
		Name:      "workers",
		Help:      "Media workers in rotation.",
	})

	workerDeathsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masomo",
		Subsystem: "media",
		Name:      "worker_deaths_total",
		Help:      "Media workers that died.",
	})

	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "masomo",
		Subsystem: "media",
		Name:      "rooms",
		Help:      "Open routing rooms.",
	})

	transportsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "masomo",
		Subsystem: "media",
		Name:      "transports",
		Help:      "Open WebRTC transports.",
	})
)
