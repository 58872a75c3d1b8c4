package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricerelay_ticks_total", Help: "Normalized ticks accepted per feed"},
		[]string{"feed"},
	)
	DroppedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricerelay_dropped_messages_total", Help: "Upstream messages dropped by the normalizer"},
		[]string{"feed"},
	)
	ReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricerelay_reconnects_total", Help: "Scheduled upstream reconnects"},
		[]string{"feed"},
	)
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricerelay_alerts_total", Help: "Trade alerts received"},
		[]string{"intent"},
	)
	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pricerelay_hub_subscribers", Help: "Connected push subscribers"},
	)
	HubDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pricerelay_hub_dropped_messages_total", Help: "Messages dropped for slow subscribers"},
	)
	PersistDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pricerelay_persist_dropped_total", Help: "Latest-tick writes dropped because the storage queue was full"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, DroppedMessagesTotal, ReconnectsTotal, AlertsTotal, Subscribers, HubDroppedTotal, PersistDroppedTotal)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
