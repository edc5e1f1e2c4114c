package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	slotStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "slot",
			Name:      "starts_total",
			Help:      "Number of successful slot starts.",
		}, []string{"slot"},
	)
	slotStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "slot",
			Name:      "stops_total",
			Help:      "Number of slot stops (graceful or kill).",
		}, []string{"slot"},
	)
	slotRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "slot",
			Name:      "restarts_total",
			Help:      "Number of slot restarts.",
		}, []string{"slot"},
	)
	startupTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "slot",
			Name:      "startup_timeouts_total",
			Help:      "Number of starts that never became reachable in time.",
		}, []string{"slot"},
	)
	startupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forge",
			Subsystem: "slot",
			Name:      "startup_duration_seconds",
			Help:      "Time from launch until the slot port became reachable.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"slot"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "slot",
			Name:      "probes_total",
			Help:      "Reachability probes by result.",
		}, []string{"slot", "result"},
	)
	registeredSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forge",
			Subsystem: "registry",
			Name:      "slots",
			Help:      "Number of slot records currently in the registry.",
		},
	)
)

// Register registers all collectors with r. Safe to call multiple times;
// an already-registered collector is skipped.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		slotStarts, slotStops, slotRestarts, startupTimeouts,
		startupDuration, probes, registeredSlots,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers all collectors with the default registerer.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(slot string) {
	if regOK.Load() {
		slotStarts.WithLabelValues(slot).Inc()
	}
}

func IncStop(slot string) {
	if regOK.Load() {
		slotStops.WithLabelValues(slot).Inc()
	}
}

func IncRestart(slot string) {
	if regOK.Load() {
		slotRestarts.WithLabelValues(slot).Inc()
	}
}

func IncStartupTimeout(slot string) {
	if regOK.Load() {
		startupTimeouts.WithLabelValues(slot).Inc()
	}
}

func ObserveStartupDuration(slot string, seconds float64) {
	if regOK.Load() {
		startupDuration.WithLabelValues(slot).Observe(seconds)
	}
}

func IncProbe(slot string, up bool) {
	if !regOK.Load() {
		return
	}
	result := "down"
	if up {
		result = "up"
	}
	probes.WithLabelValues(slot, result).Inc()
}

func SetRegisteredSlots(n int) {
	if regOK.Load() {
		registeredSlots.Set(float64(n))
	}
}
