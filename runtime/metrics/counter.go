package metrics

// Counter is a monotonically increasing metric.
type Counter struct {
	impl *Metric
}

func NewCounter(name string) *Counter {
	return &Counter{impl: Register(MetricTypeCounter, name, nil, nil)}
}

func (c *Counter) Name() string {
	return c.impl.Name()
}

func (c *Counter) Inc() {
	c.impl.Inc()
}

func (c *Counter) Add(delta float64) {
	c.impl.Add(delta)
}

// Gauge is a metric that can move in both directions.
type Gauge struct {
	impl *Metric
}

func NewGauge(name string) *Gauge {
	return &Gauge{impl: Register(MetricTypeGauge, name, nil, nil)}
}

func (g *Gauge) Name() string {
	return g.impl.Name()
}

func (g *Gauge) Set(val float64) {
	g.impl.Set(val)
}

func (g *Gauge) Add(delta float64) {
	g.impl.Add(delta)
}

func (g *Gauge) Sub(delta float64) {
	g.impl.Sub(delta)
}

// Histogram is a metric of a distribution of values.
type Histogram struct {
	impl *Metric
}

func NewHistogram(name string, bounds []float64) *Histogram {
	return &Histogram{impl: Register(MetricTypeHistogram, name, nil, bounds)}
}

func (h *Histogram) Name() string {
	return h.impl.Name()
}

func (h *Histogram) Put(val float64) {
	h.impl.Put(val)
}
