package metric

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounterMetric(t *testing.T) {
	c := NewCounter("reel_jobs_total", Tags{"hostname": "h1"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc()
		}()
	}
	wg.Wait()

	p := c.Metric()
	assert.Equal(t, "reel_jobs_total", p.Name())
	assert.Equal(t, Tags{"hostname": "h1"}, tagsMap(p.TagList()))
	assert.Equal(t, Fields{"counter": int64(10)}, fieldsMap(p.FieldList()))
}

func TestGaugeMetric(t *testing.T) {
	g := NewGauge("reel_jobs_running", nil)
	g.Add(2)
	g.Add(-1)
	assert.Equal(t, int64(1), g.Gauge())

	g.Set(0)
	assert.Equal(t, Fields{"gauge": int64(0)}, fieldsMap(g.Metric().FieldList()))
}

func TestDurationMetric(t *testing.T) {
	d := &DurationMetric{RowMetric: RowMetric{Name: "reel_job_duration"}, Duration: 1500 * time.Millisecond}
	assert.Equal(t, Fields{"duration": 1.5}, fieldsMap(d.Metric().FieldList()))
}
