package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds the server's Prometheus metrics on a private registry.
// Every method is safe on a nil receiver so the media loop can run without
// metrics.
type Collectors struct {
	registry          *prometheus.Registry
	connections       prometheus.Gauge
	bandwidth         prometheus.Gauge
	bytesSent         *prometheus.CounterVec
	feedRecords       *prometheus.CounterVec
	admissionRejected *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Collectors {
	registry := prometheus.NewRegistry()

	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feedcast_connections",
		Help: "Number of connections counted against the connection ceiling",
	})
	bandwidth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feedcast_bandwidth_kbps",
		Help: "Declared bandwidth of admitted viewers in kbit/s",
	})
	bytesSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcast_bytes_sent_total",
		Help: "Bytes sent to viewers",
	}, []string{"stream"})
	feedRecords := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcast_feed_records_total",
		Help: "Records appended to feed ring buffers",
	}, []string{"feed"})
	admissionRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcast_admission_rejected_total",
		Help: "Connections refused by admission control",
	}, []string{"reason"})

	registry.MustRegister(
		connections,
		bandwidth,
		bytesSent,
		feedRecords,
		admissionRejected,
	)

	return &Collectors{
		registry:          registry,
		connections:       connections,
		bandwidth:         bandwidth,
		bytesSent:         bytesSent,
		feedRecords:       feedRecords,
		admissionRejected: admissionRejected,
	}
}

// SetConnections sets the connection gauge.
func (m *Collectors) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// SetBandwidth sets the bandwidth gauge.
func (m *Collectors) SetBandwidth(kbps int) {
	if m == nil {
		return
	}
	m.bandwidth.Set(float64(kbps))
}

// AddBytesSent counts bytes sent for a stream.
func (m *Collectors) AddBytesSent(stream string, n int) {
	if m == nil {
		return
	}
	m.bytesSent.WithLabelValues(stream).Add(float64(n))
}

// AddFeedRecords counts appended records. Adding 0 makes the series visible.
func (m *Collectors) AddFeedRecords(feed string, n int) {
	if m == nil {
		return
	}
	m.feedRecords.WithLabelValues(feed).Add(float64(n))
}

// AdmissionRejected counts one refusal.
func (m *Collectors) AdmissionRejected(reason string) {
	if m == nil {
		return
	}
	m.admissionRejected.WithLabelValues(reason).Inc()
}

// Registry returns the private registry.
func (m *Collectors) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
