package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fluxfile/fluxfile/internal/signaling"
)

// metrics bundles the server's Prometheus collectors. Registered on
// its own registry so tests can build servers without collector name
// collisions.
type metrics struct {
	registry *prometheus.Registry

	bytesDelivered prometheus.Counter
	downloads      *prometheus.CounterVec
	archives       prometheus.Counter
}

func newMetrics(broker *signaling.Broker) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &metrics{
		registry: reg,
		bytesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxfile_bytes_delivered_total",
			Help: "Body bytes handed to download clients.",
		}),
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxfile_downloads_total",
			Help: "Download requests by response class.",
		}, []string{"status"}),
		archives: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxfile_archives_total",
			Help: "Directory archive streams started.",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fluxfile_active_peers",
		Help: "Live signaling connections.",
	}, func() float64 { return float64(broker.PeerCount()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fluxfile_active_rooms",
		Help: "Rooms with at least one member.",
	}, func() float64 { return float64(len(broker.Rooms())) })

	return m
}
