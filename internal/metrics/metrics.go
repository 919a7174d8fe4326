package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 丢包原因（drop reason 标签）
const (
	DropMalformed  = "malformed"
	DropNonFinite  = "non_finite"
	DropStoreError = "store_error"
	DropUnexpected = "unexpected"
)

// Metrics 跌倒检测各进程的 Prometheus 指标
type Metrics struct {
	registry *prometheus.Registry

	PacketsReceived prometheus.Counter
	ReceiveErrors   prometheus.Counter
	PacketsDropped  *prometheus.CounterVec
	StatesStored    prometheus.Counter
	FallsClassified prometheus.Counter

	PollCycles      prometheus.Counter
	PollReadErrors  prometheus.Counter
	SensorsFresh    prometheus.Gauge
	SensorsStale    prometheus.Gauge
	StatusEmissions *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec
	FallsLogged     prometheus.Counter
	DisplayClients  prometheus.Gauge
}

// New 创建并注册指标（每个进程独立的 Registry）
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fall_packets_received_total",
			Help: "Datagrams read from the UDP socket.",
		}),
		ReceiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fall_receive_errors_total",
			Help: "UDP socket read failures other than the receive timeout.",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fall_packets_dropped_total",
			Help: "Datagrams that did not reach the state store, by reason.",
		}, []string{"reason"}),
		StatesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fall_states_stored_total",
			Help: "Classified sensor states written to the store.",
		}),
		FallsClassified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fall_readings_falling_total",
			Help: "Readings classified as falling.",
		}),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fall_poll_cycles_total",
			Help: "Completed snapshot poll cycles.",
		}),
		PollReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fall_poll_read_errors_total",
			Help: "Store reads that failed during polling (entry absent for that cycle).",
		}),
		SensorsFresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fall_sensors_fresh",
			Help: "Sensors with a reading inside the staleness window in the last snapshot.",
		}),
		SensorsStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fall_sensors_stale",
			Help: "Sensors whose last reading is older than the staleness window.",
		}),
		StatusEmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fall_status_emissions_total",
			Help: "Aggregate fall status changes distributed to subscribers.",
		}, []string{"falling"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fall_publish_errors_total",
			Help: "Failed deliveries of status events, by publisher.",
		}, []string{"publisher"}),
		FallsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fall_events_logged_total",
			Help: "Fall occurrences written to the fall event log.",
		}),
		DisplayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fall_display_clients",
			Help: "Connected real-time display clients.",
		}),
	}

	reg.MustRegister(
		m.PacketsReceived, m.ReceiveErrors, m.PacketsDropped, m.StatesStored, m.FallsClassified,
		m.PollCycles, m.PollReadErrors, m.SensorsFresh, m.SensorsStale,
		m.StatusEmissions, m.PublishErrors, m.FallsLogged, m.DisplayClients,
	)
	return m
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
