package metrics

import "sync"

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// InMemory is a Collector backed by plain maps, good enough for the admin
// surface and for tests.
type InMemory struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

func NewInMemory() *InMemory {
	return &InMemory{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

func (c *InMemory) IncCounter(name string, _ map[string]string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += delta
}

func (c *InMemory) SetGauge(name string, _ map[string]string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = value
}

func (c *InMemory) ObserveHistogram(name string, labels map[string]string, value float64) {
	// histograms degrade to a last-value gauge here
	c.SetGauge(name, labels, value)
}

// Counter returns the current value of a counter.
func (c *InMemory) Counter(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// Snapshot copies all counters and gauges.
func (c *InMemory) Snapshot() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.counters)+len(c.gauges))
	for k, v := range c.counters {
		out[k] = v
	}
	for k, v := range c.gauges {
		out[k] = v
	}
	return out
}
