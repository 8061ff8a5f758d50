// Package metrics exposes hub and call manager counters through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HubCollector records signaling hub activity.
type HubCollector interface {
	ClientConnected()
	ClientDisconnected()
	FrameRouted(kind string)
	FrameDropped(reason string)
	OfflineDepth(delta int)
}

// CallCollector records call manager activity.
type CallCollector interface {
	Transition(from, to string)
	CallEnded(reason string, duration time.Duration)
	BusyRejected()
}

// Collector is implemented by Prometheus and Nop.
type Collector interface {
	HubCollector
	CallCollector
}

// Prometheus implements Collector on a caller-supplied registry.
type Prometheus struct {
	registry *prometheus.Registry

	// Hub metrics
	activeClients prometheus.Gauge
	framesRouted  *prometheus.CounterVec
	framesDropped *prometheus.CounterVec
	offlineQueued prometheus.Gauge

	// Call metrics
	transitions  *prometheus.CounterVec
	callsEnded   *prometheus.CounterVec
	busyRejected prometheus.Counter
	callDuration prometheus.Histogram
}

// NewPrometheus registers every collector on reg. A nil reg creates a fresh
// registry so several instances can coexist in tests.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,

		activeClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rojcall_hub_active_clients",
			Help: "Number of connected WebSocket clients",
		}),

		framesRouted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rojcall_hub_frames_routed_total",
				Help: "Total number of frames delivered or queued, by kind",
			},
			[]string{"kind"},
		),

		framesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rojcall_hub_frames_dropped_total",
				Help: "Total number of frames dropped, by reason",
			},
			[]string{"reason"},
		),

		offlineQueued: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rojcall_hub_offline_queued",
			Help: "Number of signals waiting for an offline recipient",
		}),

		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rojcall_call_transitions_total",
				Help: "Total number of call state transitions",
			},
			[]string{"from", "to"},
		),

		callsEnded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rojcall_calls_ended_total",
				Help: "Total number of calls that returned to idle, by reason",
			},
			[]string{"reason"},
		),

		busyRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "rojcall_call_busy_rejections_total",
			Help: "Total number of offers rejected because the user was busy",
		}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rojcall_call_duration_seconds",
			Help:    "Time from the first transition out of idle to teardown",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}),
	}
}

func (p *Prometheus) ClientConnected()           { p.activeClients.Inc() }
func (p *Prometheus) ClientDisconnected()        { p.activeClients.Dec() }
func (p *Prometheus) FrameRouted(kind string)    { p.framesRouted.WithLabelValues(kind).Inc() }
func (p *Prometheus) FrameDropped(reason string) { p.framesDropped.WithLabelValues(reason).Inc() }
func (p *Prometheus) OfflineDepth(delta int)     { p.offlineQueued.Add(float64(delta)) }
func (p *Prometheus) BusyRejected()              { p.busyRejected.Inc() }

func (p *Prometheus) Transition(from, to string) {
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *Prometheus) CallEnded(reason string, duration time.Duration) {
	p.callsEnded.WithLabelValues(reason).Inc()
	p.callDuration.Observe(duration.Seconds())
}

// Registry returns the registry the collectors live on.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) ClientConnected()                {}
func (Nop) ClientDisconnected()             {}
func (Nop) FrameRouted(string)              {}
func (Nop) FrameDropped(string)             {}
func (Nop) OfflineDepth(int)                {}
func (Nop) Transition(string, string)       {}
func (Nop) CallEnded(string, time.Duration) {}
func (Nop) BusyRejected()                   {}
