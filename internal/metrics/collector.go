// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector. It renders text/plain in Prometheus exposition format without
// pulling in the heavy prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewCollector() *MetricsCollector {
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

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Counter returns or creates a counter. labels is a preformatted Prometheus
// label string ("" for none).
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, 0, len(buckets)+1)
	for _, b := range buckets {
		hb = append(hb, histBucket{le: b})
	}
	// Exposition format requires the +Inf bucket; it catches observations
	// past the largest finite bucket.
	hb = append(hb, histBucket{le: math.Inf(1)})
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// Handler renders all metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP botgate_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE botgate_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "botgate_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		helpWritten := make(map[string]bool)
		c.counters.Range(func(_, value any) bool {
			ctr := value.(*Counter)
			writeSample(&sb, helpWritten, ctr.name, ctr.help, "counter", ctr.labels, fmt.Sprintf("%d", ctr.Value()))
			return true
		})

		helpWritten = make(map[string]bool)
		c.gauges.Range(func(_, value any) bool {
			g := value.(*Gauge)
			writeSample(&sb, helpWritten, g.name, g.help, "gauge", g.labels, fmt.Sprintf("%d", g.Value()))
			return true
		})

		c.histograms.Range(func(_, value any) bool {
			h := value.(*Histogram)
			h.mu.Lock()
			defer h.mu.Unlock()

			fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
			fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
			for _, b := range h.buckets {
				if h.labels != "" {
					fmt.Fprintf(&sb, "%s_bucket{%s,le=\"%g\"} %d\n", h.name, h.labels, b.le, b.count)
				} else {
					fmt.Fprintf(&sb, "%s_bucket{le=\"%g\"} %d\n", h.name, b.le, b.count)
				}
			}
			if h.labels != "" {
				fmt.Fprintf(&sb, "%s_count{%s} %d\n", h.name, h.labels, h.count)
				fmt.Fprintf(&sb, "%s_sum{%s} %f\n", h.name, h.labels, h.sum)
			} else {
				fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
				fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
			}
			return true
		})

		fmt.Fprint(w, sb.String())
	}
}

func writeSample(sb *strings.Builder, helpWritten map[string]bool, name, help, typ, labels, value string) {
	if !helpWritten[name] {
		fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
		fmt.Fprintf(sb, "# TYPE %s %s\n", name, typ)
		helpWritten[name] = true
	}
	if labels != "" {
		fmt.Fprintf(sb, "%s{%s} %s\n", name, labels, value)
	} else {
		fmt.Fprintf(sb, "%s %s\n", name, value)
	}
}

// --- Pre-defined metrics used across the gateway ---

var (
	WebhooksReceived    = Collector.Counter("botgate_webhooks_received_total", "Webhook requests received", "")
	SignatureRejects    = Collector.Counter("botgate_signature_rejects_total", "Webhook requests with bad signatures", "")
	UnsupportedPayloads = Collector.Counter("botgate_unsupported_payloads_total", "Payloads acknowledged without dispatch", "")
	DedupedMessages     = Collector.Counter("botgate_deduped_messages_total", "Duplicate messages dropped by the dedup window", "")
	ShedMessages        = Collector.Counter("botgate_shed_messages_total", "Messages shed by full chat queues", "")
	SendsDelivered      = Collector.Counter("botgate_sends_delivered_total", "Replies delivered", "")
	SendsRejected       = Collector.Counter("botgate_sends_rejected_total", "Replies permanently rejected by the platform", "")
	SendsAbandoned      = Collector.Counter("botgate_sends_abandoned_total", "Replies abandoned after exhausting retries", "")
	ResolutionFailures  = Collector.Counter("botgate_resolution_failures_total", "Messages dropped after the resolution retry budget", "")
	EmptyReplies        = Collector.Counter("botgate_empty_replies_total", "Resolutions that produced no reply to deliver", "")
	ActiveChats         = Collector.Gauge("botgate_active_chats", "Chat queues currently held in memory", "")

	DeliveryLatency = Collector.Histogram("botgate_delivery_latency_seconds",
		"Time from enqueue to terminal delivery outcome", "",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120})
)
