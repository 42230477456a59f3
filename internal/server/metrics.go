package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/chatrelay/internal/chat"
)

// Metrics holds the relay's Prometheus collectors. Each instance owns its
// registry so several relays can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	connections     prometheus.Gauge
	framesIn        *prometheus.CounterVec
	framesOut       prometheus.Counter
	rateLimited     prometheus.Counter
	slowClients     prometheus.Counter
	messagesStored  *prometheus.CounterVec
	groupsCreated   prometheus.Counter
	uploadBytes     prometheus.Counter
	uploadsFinished prometheus.Counter
	uploadsAborted  prometheus.Counter
}

// NewMetrics registers the relay collectors on a fresh registry, together
// with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_connections",
			Help: "Open WebSocket connections.",
		}),
		framesIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_frames_received_total",
			Help: "Inbound frames by action.",
		}, []string{"action"}),
		framesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_frames_sent_total",
			Help: "Outbound frames queued for delivery.",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_rate_limited_total",
			Help: "Control frames discarded by the rate limiter.",
		}),
		slowClients: f.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_slow_clients_total",
			Help: "Clients dropped because their send buffer was full.",
		}),
		messagesStored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_messages_stored_total",
			Help: "Messages appended to the store by kind.",
		}, []string{"kind"}),
		groupsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_groups_created_total",
			Help: "Groups created.",
		}),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_upload_bytes_total",
			Help: "Bytes written to uploaded assets.",
		}),
		uploadsFinished: f.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_uploads_finished_total",
			Help: "Uploads completed with the finish sentinel.",
		}),
		uploadsAborted: f.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_uploads_aborted_total",
			Help: "Uploads abandoned by failure, disconnect or a new announce.",
		}),
	}
}

// ObserveRelay exports the registry counts of relay as gauges sampled at
// scrape time.
func (m *Metrics) ObserveRelay(relay *chat.Relay) {
	f := promauto.With(m.registry)
	gauge := func(name, help string, value func(chat.Stats) int) {
		f.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(value(relay.Stats()))
		})
	}
	gauge("chatrelay_users", "User sessions ever connected.", func(st chat.Stats) int { return st.Users })
	gauge("chatrelay_active_users", "User sessions with a live connection.", func(st chat.Stats) int { return st.Active })
	gauge("chatrelay_groups", "Groups created.", func(st chat.Stats) int { return st.Groups })
	gauge("chatrelay_messages", "Messages held in the store.", func(st chat.Stats) int { return st.Messages })
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
