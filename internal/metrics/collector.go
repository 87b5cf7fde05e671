// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the ingestion core. It renders text/plain in Prometheus
// exposition format without pulling in the heavy prometheus/client_golang
// dependency.
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters and gauges.
type MetricsCollector struct {
	counters  sync.Map // key -> *Counter
	gauges    sync.Map // key -> *Gauge
	startTime time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Counter returns or creates a counter with the given name and label set.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name and label set.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Handler returns an http.HandlerFunc rendering Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP clawbot_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE clawbot_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "clawbot_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		helpWritten := make(map[string]bool)
		c.counters.Range(func(key, value any) bool {
			ctr := value.(*Counter)
			if !helpWritten[ctr.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
				fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
				helpWritten[ctr.name] = true
			}
			if ctr.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", ctr.name, ctr.labels, ctr.Value())
			} else {
				fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
			}
			return true
		})

		helpWritten = make(map[string]bool)
		c.gauges.Range(func(key, value any) bool {
			g := value.(*Gauge)
			if !helpWritten[g.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
				fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
				helpWritten[g.name] = true
			}
			if g.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", g.name, g.labels, g.Value())
			} else {
				fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
			}
			return true
		})

		fmt.Fprint(w, sb.String())
	}
}

// --- Ingestion metrics used across the channels ---

func channelLabel(channel string) string {
	return `channel="` + channel + `"`
}

// Received counts allowed, non-empty messages enqueued for a channel.
func Received(channel string) *Counter {
	return Collector.Counter("clawbot_messages_received_total",
		"Messages accepted and enqueued for the dispatcher", channelLabel(channel))
}

// Denied counts messages dropped by the allow-list for a channel.
func Denied(channel string) *Counter {
	return Collector.Counter("clawbot_messages_denied_total",
		"Messages dropped because the sender is not allow-listed", channelLabel(channel))
}

// Empty counts whitespace-only messages dropped for a channel.
func Empty(channel string) *Counter {
	return Collector.Counter("clawbot_messages_empty_total",
		"Messages dropped because the body was empty", channelLabel(channel))
}

// Sent counts outbound replies delivered through a channel.
func Sent(channel string) *Counter {
	return Collector.Counter("clawbot_messages_sent_total",
		"Outbound replies sent through the channel", channelLabel(channel))
}

// PollFailures counts failed fetch attempts for a polling channel.
func PollFailures(channel string) *Counter {
	return Collector.Counter("clawbot_poll_failures_total",
		"Failed fetches against the channel's local store", channelLabel(channel))
}

// QueueDepth tracks the number of messages waiting in the delivery queue.
var QueueDepth = Collector.Gauge("clawbot_queue_depth",
	"Messages currently waiting in the delivery queue", "")
