// Package metrics exposes Prometheus collectors for the simulation loop.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"atmcs-sim/internal/mount"
)

// Collector bundles the simulator metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	TickDuration     prometheus.Histogram
	Commands         *prometheus.CounterVec
	Events           *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	OperationalState prometheus.Gauge
	AxisPosition     *prometheus.GaugeVec
}

// NewCollector registers the simulator metrics against reg, defaulting to
// the global registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tick, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "atmcs_tick_duration_seconds",
		Help:    "Wall time spent computing one simulation tick.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}), "atmcs_tick_duration_seconds")
	if err != nil {
		return nil, err
	}
	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atmcs_commands_total",
		Help: "Commands handled, labeled by command kind and result.",
	}, []string{"kind", "result"}), "atmcs_commands_total")
	if err != nil {
		return nil, err
	}
	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atmcs_events_total",
		Help: "Events emitted by the mount, labeled by type.",
	}, []string{"type"}), "atmcs_events_total")
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atmcs_events_dropped_total",
		Help: "Events dropped because the outbox was full.",
	}), "atmcs_events_dropped_total")
	if err != nil {
		return nil, err
	}
	state, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atmcs_operational_state",
		Help: "Operational state: 0 disabled, 1 enabled idle, 2 enabled tracking, 3 fault.",
	}), "atmcs_operational_state")
	if err != nil {
		return nil, err
	}
	position, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atmcs_axis_position_degrees",
		Help: "Simulated axis position in degrees.",
	}, []string{"axis"}), "atmcs_axis_position_degrees")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		TickDuration:     tick,
		Commands:         commands,
		Events:           events,
		EventsDropped:    dropped,
		OperationalState: state,
		AxisPosition:     position,
	}, nil
}

// Handler exposes the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
}

func (c *Collector) CommandHandled(kind, result string) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(kind, result).Inc()
}

func (c *Collector) EventEmitted(kind string) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(kind).Inc()
}

func (c *Collector) EventDropped() {
	if c == nil {
		return
	}
	c.EventsDropped.Inc()
}

// ObserveState updates the gauges from a snapshot.
func (c *Collector) ObserveState(st *mount.State) {
	if c == nil || st == nil {
		return
	}
	c.OperationalState.Set(float64(st.Operational))
	for _, a := range st.Axes {
		c.AxisPosition.WithLabelValues(a.ID.String()).Set(a.Position)
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
