package metric

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/influxdata/influxdb-client-go"
)

type Fields map[string]interface{}

type Tags map[string]string

type Client interface {
	// Add registers a metric sent on every tick.
	Add(metric Metric)
	Send(metrics ...*influxdb2.Point)
	Ticker(ctx context.Context, duration time.Duration)
	Close()
}

type Metric interface {
	Metric() *influxdb2.Point
}

type RowMetric struct {
	Name string
	Tags Tags
}

func (r RowMetric) point(fields Fields) *influxdb2.Point {
	return influxdb2.NewPoint(r.Name, r.Tags, fields, time.Now())
}

type CounterMetric struct {
	RowMetric
	counter int64
}

func NewCounter(name string, tags Tags) *CounterMetric {
	return &CounterMetric{RowMetric: RowMetric{Name: name, Tags: tags}}
}

func (c *CounterMetric) Inc() {
	atomic.AddInt64(&c.counter, 1)
}

func (c *CounterMetric) Counter() int64 {
	return atomic.LoadInt64(&c.counter)
}

func (c *CounterMetric) Metric() *influxdb2.Point {
	return c.point(Fields{"counter": c.Counter()})
}

type GaugeMetric struct {
	RowMetric
	gauge int64
}

func NewGauge(name string, tags Tags) *GaugeMetric {
	return &GaugeMetric{RowMetric: RowMetric{Name: name, Tags: tags}}
}

func (g *GaugeMetric) Set(v int64) {
	atomic.StoreInt64(&g.gauge, v)
}

func (g *GaugeMetric) Add(delta int64) {
	atomic.AddInt64(&g.gauge, delta)
}

func (g *GaugeMetric) Gauge() int64 {
	return atomic.LoadInt64(&g.gauge)
}

func (g *GaugeMetric) Metric() *influxdb2.Point {
	return g.point(Fields{"gauge": g.Gauge()})
}

type DurationMetric struct {
	RowMetric
	Duration time.Duration
}

func (d *DurationMetric) Metric() *influxdb2.Point {
	return d.point(Fields{"duration": d.Duration.Seconds()})
}

type Null struct{}

func (n *Null) Add(metric Metric) {}

func (n *Null) Send(metrics ...*influxdb2.Point) {}

func (n *Null) Ticker(ctx context.Context, duration time.Duration) {}

func (n *Null) Close() {}
