// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the relay. It outputs text/plain in Prometheus exposition
// format without requiring the heavy prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates counters and gauges.
type Collector struct {
	counters  sync.Map // name -> *Counter
	gauges    sync.Map // name -> *Gauge
	startTime time.Time
}

// NewCollector creates a new collector.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }

func (g *Gauge) Inc() { g.value.Add(1) }

func (g *Gauge) Dec() { g.value.Add(-1) }

func (g *Gauge) Value() int64 { return g.value.Load() }

// Counter returns or creates a counter with the given name.
func (c *Collector) Counter(name, help string) *Counter {
	if v, ok := c.counters.Load(name); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help}
	actual, _ := c.counters.LoadOrStore(name, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *Collector) Gauge(name, help string) *Gauge {
	if v, ok := c.gauges.Load(name); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help}
	actual, _ := c.gauges.LoadOrStore(name, g)
	return actual.(*Gauge)
}

// Handler returns an http.HandlerFunc that renders metrics in Prometheus
// text format.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP chatrelay_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE chatrelay_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "chatrelay_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		c.counters.Range(func(_, value any) bool {
			ctr := value.(*Counter)
			fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
			fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
			return true
		})

		c.gauges.Range(func(_, value any) bool {
			g := value.(*Gauge)
			fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
			fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
			return true
		})

		w.Write([]byte(sb.String()))
	}
}

// RelayMetrics bundles the counters the relay engine reports to.
type RelayMetrics struct {
	TurnsStarted   *Counter
	TurnsCompleted *Counter
	TurnsFailed    *Counter
	ChunksRelayed  *Counter
	StoreErrors    *Counter
	ActiveStreams  *Gauge
}

// NewRelayMetrics registers the relay metric set on the collector.
func NewRelayMetrics(c *Collector) *RelayMetrics {
	return &RelayMetrics{
		TurnsStarted:   c.Counter("relay_turns_started_total", "Chat turns that entered streaming"),
		TurnsCompleted: c.Counter("relay_turns_completed_total", "Chat turns that finished with a done frame"),
		TurnsFailed:    c.Counter("relay_turns_failed_total", "Chat turns that ended with an error frame"),
		ChunksRelayed:  c.Counter("relay_chunks_relayed_total", "Token chunks forwarded to clients"),
		StoreErrors:    c.Counter("relay_store_errors_total", "Persistence failures, including post-stream assistant writes"),
		ActiveStreams:  c.Gauge("relay_active_streams", "Streams currently open to clients"),
	}
}
