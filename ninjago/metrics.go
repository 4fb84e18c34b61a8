package ninjago

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
)

// Metric is a single metric: a named count and its total elapsed time.
type Metric struct {
	name  string
	count int
	sum   time.Duration
}

// Metrics collects the metrics of interest of a run; enabled by -d stats.
type Metrics struct {
	clock   clock.Clock
	byName  map[string]*Metric
	metrics []*Metric
}

func NewMetrics(c clock.Clock) *Metrics {
	if c == nil {
		c = clock.New()
	}
	return &Metrics{clock: c, byName: make(map[string]*Metric)}
}

// GlobalMetrics is nil unless stats collection was requested.
var GlobalMetrics *Metrics

// MetricRecord times a scope:
//
//	defer MetricRecord("graph walk")()
func MetricRecord(name string) func() {
	if GlobalMetrics == nil {
		return func() {}
	}
	return GlobalMetrics.Record(name)
}

func (m *Metrics) Record(name string) func() {
	metric := m.byName[name]
	if metric == nil {
		metric = &Metric{name: name}
		m.byName[name] = metric
		m.metrics = append(m.metrics, metric)
	}
	start := m.clock.Now()
	return func() {
		metric.count++
		metric.sum += m.clock.Since(start)
	}
}

// Report prints a summary report to stdout.
func (m *Metrics) Report() {
	width := len("metric")
	for _, metric := range m.metrics {
		if len(metric.name) > width {
			width = len(metric.name)
		}
	}

	fmt.Printf("%-*s\t%-6s\t%-9s\t%s\n", width, "metric", "count", "avg (us)", "total (ms)")
	for _, metric := range m.metrics {
		total := float64(metric.sum) / float64(time.Millisecond)
		avg := float64(metric.sum) / float64(time.Microsecond) / float64(metric.count)
		fmt.Printf("%-*s\t%-6s\t%-8.1f\t%.1f\n", width, metric.name,
			humanize.Comma(int64(metric.count)), avg, total)
	}
}

// Stopwatch returns the seconds since Restart() was called.
type Stopwatch struct {
	clock   clock.Clock
	started time.Time
}

func NewStopwatch(c clock.Clock) *Stopwatch {
	if c == nil {
		c = clock.New()
	}
	return &Stopwatch{clock: c}
}

func (s *Stopwatch) Restart() { s.started = s.clock.Now() }

func (s *Stopwatch) Elapsed() float64 {
	return s.clock.Since(s.started).Seconds()
}
