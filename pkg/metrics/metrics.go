// Package metrics exposes the tank readings and loop health as Prometheus
// metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlie0129/tankmon/pkg/tank"
)

const namespace = "tankmon"

type Metrics struct {
	registry *prometheus.Registry

	depth      prometheus.Gauge
	volume     prometheus.Gauge
	percentage prometheus.Gauge
	distance   prometheus.Gauge
	station    prometheus.Gauge

	taskRuns     *prometheus.CounterVec
	sensorErrors prometheus.Counter
	listeners    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "liquid_depth_cm",
			Help:      "Liquid depth in centimetres.",
		}),
		volume: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "liquid_volume_litres",
			Help:      "Liquid volume in litres.",
		}),
		percentage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "liquid_percentage",
			Help:      "Fill level in percent of the tank depth.",
		}),
		distance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_distance_cm",
			Help:      "Last raw distance reported by the sensor.",
		}),
		station: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_station_mode",
			Help:      "1 when joined to a network as a station, 0 when serving the access point.",
		}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Number of times each scheduled task ran.",
		}, []string{"task"}),
		sensorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_errors_total",
			Help:      "Number of failed sensor reads.",
		}),
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listeners",
			Help:      "Connected WebSocket listeners.",
		}),
	}

	m.registry.MustRegister(
		m.depth, m.volume, m.percentage, m.distance, m.station,
		m.taskRuns, m.sensorErrors, m.listeners,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveTank(s tank.State) {
	m.depth.Set(s.Depth)
	m.volume.Set(s.VolumeLitres)
	m.percentage.Set(s.Percentage)
	m.distance.Set(s.Distance)
}

func (m *Metrics) ObserveStation(station bool) {
	if station {
		m.station.Set(1)
	} else {
		m.station.Set(0)
	}
}

func (m *Metrics) TaskRan(name string) {
	m.taskRuns.WithLabelValues(name).Inc()
}

func (m *Metrics) SensorError() {
	m.sensorErrors.Inc()
}

func (m *Metrics) SetListeners(n int) {
	m.listeners.Set(float64(n))
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
