// ABOUTME: Prometheus metrics for the clock server
// ABOUTME: Counts ticks, transitions, commands and followers and reports watched clocks at scrape time
package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Resonate-Protocol/playclock/pkg/playclock"
)

// Metrics is a prometheus.Collector with its own registry.
type Metrics struct {
	registry *prometheus.Registry

	ticks          prometheus.Counter
	eventsTotal    *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
	commandsTotal  *prometheus.CounterVec
	followers      prometheus.Gauge
	clockMicros    *prometheus.GaugeVec
	clockPlaying   *prometheus.GaugeVec
	clockRateRatio *prometheus.GaugeVec

	mu      sync.Mutex
	watched map[string]*playclock.FullClock
}

// New creates the metrics and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playclock_ticks_total",
			Help: "Number of master clock updates by the playback driver",
		}),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playclock_events_total",
				Help: "Effective clock transitions by clock and kind",
			},
			[]string{"clock", "kind"},
		),
		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playclock_dropped_messages_total",
				Help: "Messages dropped because a follower's send buffer was full",
			},
			[]string{"clock"},
		),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playclock_commands_total",
				Help: "Follower commands by command and result",
			},
			[]string{"command", "result"},
		),
		followers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playclock_followers",
			Help: "Connected followers",
		}),
		clockMicros: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "playclock_clock_micros",
				Help: "Current time of each watched clock in microseconds",
			},
			[]string{"clock"},
		),
		clockPlaying: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "playclock_clock_playing",
				Help: "1 if the watched clock is effectively playing",
			},
			[]string{"clock"},
		),
		clockRateRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "playclock_clock_rate",
				Help: "Effective rate of each watched clock",
			},
			[]string{"clock"},
		),
		watched: make(map[string]*playclock.FullClock),
	}
	m.registry.MustRegister(m)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.ticks.Describe(ch)
	m.eventsTotal.Describe(ch)
	m.droppedTotal.Describe(ch)
	m.commandsTotal.Describe(ch)
	m.followers.Describe(ch)
	m.clockMicros.Describe(ch)
	m.clockPlaying.Describe(ch)
	m.clockRateRatio.Describe(ch)
}

// Collect implements prometheus.Collector and samples watched clocks.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.collectClocks()

	m.ticks.Collect(ch)
	m.eventsTotal.Collect(ch)
	m.droppedTotal.Collect(ch)
	m.commandsTotal.Collect(ch)
	m.followers.Collect(ch)
	m.clockMicros.Collect(ch)
	m.clockPlaying.Collect(ch)
	m.clockRateRatio.Collect(ch)
}

func (m *Metrics) collectClocks() {
	m.mu.Lock()
	names := make([]string, 0, len(m.watched))
	for name := range m.watched {
		names = append(names, name)
	}
	sort.Strings(names)
	clocks := make([]*playclock.FullClock, len(names))
	for i, name := range names {
		clocks[i] = m.watched[name]
	}
	m.mu.Unlock()

	for i, c := range clocks {
		name := names[i]
		playing := 0.0
		if c.IsPlaying() {
			playing = 1
		}
		m.clockMicros.WithLabelValues(name).Set(float64(c.Micros()))
		m.clockPlaying.WithLabelValues(name).Set(playing)
		m.clockRateRatio.WithLabelValues(name).Set(c.Rate().Float64())
	}
}

// Watch reports c under name and counts its transitions. The listener is
// attached with AddListener so existing state is not counted.
func (m *Metrics) Watch(name string, c *playclock.FullClock) {
	m.mu.Lock()
	m.watched[name] = c
	m.mu.Unlock()

	events := m.eventsTotal
	c.AddListener(playclock.NewEventSink(func(e playclock.Event) {
		events.WithLabelValues(name, e.Kind.String()).Inc()
	}))
}

// Tick counts a driver tick. It lets Metrics be registered as a
// playback.Ticker.
func (m *Metrics) Tick() {
	m.ticks.Inc()
}

// RecordDropped counts a message dropped for a slow follower of clock.
func (m *Metrics) RecordDropped(clock string) {
	m.droppedTotal.WithLabelValues(clock).Inc()
}

// RecordCommand counts a follower command with its result ("ok" or "error").
func (m *Metrics) RecordCommand(command, result string) {
	m.commandsTotal.WithLabelValues(command, result).Inc()
}

// FollowerConnected and FollowerDisconnected track the connected count.
func (m *Metrics) FollowerConnected() {
	m.followers.Inc()
}

func (m *Metrics) FollowerDisconnected() {
	m.followers.Dec()
}
