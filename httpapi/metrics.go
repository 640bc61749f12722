package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the server's Prometheus collectors on a private registry so
// multiple servers in one process do not collide.
type metrics struct {
	registry          *prometheus.Registry
	mints             prometheus.Counter
	tokensMinted      prometheus.Counter
	resolutions       prometheus.Counter
	rejectedCallbacks prometheus.Counter
	lotsRemaining     prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		mints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotmint",
			Name:      "mints_total",
			Help:      "Completed purchase requests.",
		}),
		tokensMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotmint",
			Name:      "tokens_minted_total",
			Help:      "Tokens issued across all purchases.",
		}),
		resolutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotmint",
			Name:      "resolutions_total",
			Help:      "Oracle callbacks that bound a lot to a token.",
		}),
		rejectedCallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotmint",
			Name:      "rejected_callbacks_total",
			Help:      "Oracle callbacks rejected as unknown, duplicate, or unauthorized.",
		}),
		lotsRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lotmint",
			Name:      "lots_remaining",
			Help:      "Undrawn lots left in the pool.",
		}),
	}
	m.registry.MustRegister(m.mints, m.tokensMinted, m.resolutions, m.rejectedCallbacks, m.lotsRemaining)
	return m
}

func (m *metrics) handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
