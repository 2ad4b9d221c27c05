// Package metrics exports session activity as Prometheus metrics. The
// collectors are fed from the event bus, so the session itself never
// touches Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chaz8081/blelight/internal/events"
)

const namespace = "blelight"

// States lists every value the connection_state gauge is labelled with.
var States = []string{"Disconnected", "Connecting", "Connected", "Permission Denied"}

// Collector holds the session metrics.
type Collector struct {
	submissions   prometheus.Counter
	coalesced     prometheus.Counter
	writes        *prometheus.CounterVec
	writeDuration prometheus.Histogram
	state         *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
}

// New registers the session metrics on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	c := &Collector{
		submissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "submissions_total",
			Help:      "Colors accepted by the write pipeline",
		}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "coalesced_total",
			Help:      "Submissions that replaced a color before it was written",
		}),
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "writes_total",
			Help:      "Characteristic writes by result",
		}, []string{"result"}),
		writeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "write_duration_seconds",
			Help:      "Duration of successful characteristic writes",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Connection state transitions by target state",
		}, []string{"to"}),
	}

	c.setState("Disconnected")
	return c
}

// Attach subscribes c to bus and returns a function that detaches it.
func (c *Collector) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(c.onStateChanged),
		bus.Subscribe(c.onColorSubmitted),
		bus.Subscribe(c.onColorWritten),
		bus.Subscribe(c.onWriteFailed),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (c *Collector) onStateChanged(e events.StateChangedEvent) {
	c.transitions.WithLabelValues(e.To).Inc()
	c.setState(e.To)
}

func (c *Collector) onColorSubmitted(e events.ColorSubmittedEvent) {
	c.submissions.Inc()
	if e.Replaced {
		c.coalesced.Inc()
	}
}

func (c *Collector) onColorWritten(e events.ColorWrittenEvent) {
	c.writes.WithLabelValues("ok").Inc()
	c.writeDuration.Observe(e.Duration.Seconds())
}

func (c *Collector) onWriteFailed(events.WriteFailedEvent) {
	c.writes.WithLabelValues("error").Inc()
}

func (c *Collector) setState(current string) {
	for _, s := range States {
		v := 0.0
		if s == current {
			v = 1
		}
		c.state.WithLabelValues(s).Set(v)
	}
}
