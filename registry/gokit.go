package registry

import (
	"github.com/go-kit/kit/metrics"
)

// CounterAdapter is a go-kit metrics.Counter writing to a registry counter.
// Contract violations are latched on the registry with Fail.
type CounterAdapter struct {
	reg  *Registry
	name string
	lvs  []string
}

var _ metrics.Counter = (*CounterAdapter)(nil)

// NewCounter returns an adapter for the counter name.
func NewCounter(reg *Registry, name string) *CounterAdapter {
	return &CounterAdapter{reg: reg, name: name}
}

// With returns a counter bound to additional label name/value pairs.
func (c *CounterAdapter) With(labelValues ...string) metrics.Counter {
	return &CounterAdapter{reg: c.reg, name: c.name, lvs: with(c.lvs, labelValues)}
}

func (c *CounterAdapter) Add(delta float64) {
	if err := c.reg.IncrementCounter(c.name, toLabels(c.lvs), delta); err != nil {
		c.reg.Fail(err)
	}
}

// GaugeAdapter is a go-kit metrics.Gauge writing to a registry gauge.
type GaugeAdapter struct {
	reg  *Registry
	name string
	lvs  []string
}

var _ metrics.Gauge = (*GaugeAdapter)(nil)

// NewGauge returns an adapter for the gauge name.
func NewGauge(reg *Registry, name string) *GaugeAdapter {
	return &GaugeAdapter{reg: reg, name: name}
}

// With returns a gauge bound to additional label name/value pairs.
func (g *GaugeAdapter) With(labelValues ...string) metrics.Gauge {
	return &GaugeAdapter{reg: g.reg, name: g.name, lvs: with(g.lvs, labelValues)}
}

func (g *GaugeAdapter) Set(value float64) {
	if err := g.reg.SetGauge(g.name, toLabels(g.lvs), value); err != nil {
		g.reg.Fail(err)
	}
}

func (g *GaugeAdapter) Add(delta float64) {
	if err := g.reg.AddGauge(g.name, toLabels(g.lvs), delta); err != nil {
		g.reg.Fail(err)
	}
}

// with appends label pairs; a dangling name gets the value "unknown" as in
// go-kit's own implementations.
func with(base, labelValues []string) []string {
	if len(labelValues)%2 != 0 {
		labelValues = append(labelValues, "unknown")
	}
	out := make([]string, 0, len(base)+len(labelValues))
	out = append(out, base...)
	return append(out, labelValues...)
}

func toLabels(lvs []string) Labels {
	if len(lvs) == 0 {
		return nil
	}
	l := make(Labels, len(lvs)/2)
	for i := 0; i+1 < len(lvs); i += 2 {
		l[lvs[i]] = lvs[i+1]
	}
	return l
}
