package metrics

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/kanengo/someipc/internal/unsafex"
)

type MetricType int32

const (
	MetricTypeInvalid MetricType = iota
	MetricTypeCounter
	MetricTypeGauge
	MetricTypeHistogram
)

var (
	metricMu sync.RWMutex
	metrics  []*Metric

	metricNamesMu sync.RWMutex
	metricNames   = map[string]bool{}
)

// Metric is one named measurement collected by the binding.
type Metric struct {
	typ    MetricType
	name   string
	labels map[string]string

	once   sync.Once     // 延迟初始化 id
	id     uint64        // 全局唯一 id
	fValue atomicFloat64 // Counter、Gauge 的值, Histogram 的和
	iValue atomic.Uint64 // Counter 的整形增量

	// For histograms only:
	putCount atomic.Uint64
	bounds   []float64
	counts   []atomic.Uint64
}

func (m *Metric) Name() string {
	return m.name
}

func (m *Metric) Inc() {
	m.iValue.Add(1)
}

func (m *Metric) Add(delta float64) {
	m.fValue.add(delta)
}

func (m *Metric) Sub(delta float64) {
	m.fValue.add(-delta)
}

func (m *Metric) Set(val float64) {
	m.fValue.set(val)
}

func (m *Metric) Put(val float64) {
	var idx int
	if len(m.bounds) == 0 || val < m.bounds[0] {

	} else {
		idx = sort.SearchFloat64s(m.bounds, val)
		if idx < len(m.bounds) && val == m.bounds[idx] {
			idx++
		}
	}
	m.counts[idx].Add(1)

	if val != 0 {
		m.fValue.add(val)
	}
	m.putCount.Add(1)
}

func (m *Metric) get() float64 {
	return m.fValue.get() + float64(m.iValue.Load())
}

// initId 延迟初始化到第一次导出 metric, 避免减慢注册
func (m *Metric) initId() {
	m.once.Do(func() {
		// 使用8位 nanoid,转换成一个64位整型
		id := gonanoid.Must(8)
		m.id = binary.LittleEndian.Uint64(unsafex.StringToBytes(id))
	})
}

// Register creates and records a new metric. Registering the same name
// twice panics.
func Register(typ MetricType, name string, labels map[string]string, bounds []float64) *Metric {
	if name == "" {
		panic(fmt.Errorf("empty metric name"))
	}
	if typ == MetricTypeInvalid {
		panic(fmt.Errorf("metric %q: invalid metric type %v", name, typ))
	}

	metricNamesMu.Lock()
	if metricNames[name] {
		metricNamesMu.Unlock()
		panic(fmt.Errorf("metric %q already exists", name))
	}
	metricNames[name] = true
	metricNamesMu.Unlock()

	metricMu.Lock()
	defer metricMu.Unlock()

	m := &Metric{
		typ:    typ,
		name:   name,
		labels: labels,
		bounds: bounds,
	}
	if typ == MetricTypeHistogram {
		m.counts = make([]atomic.Uint64, len(bounds)+1)
	}
	metrics = append(metrics, m)

	return m
}

// MetricSnapshot 是一个 metric 的只读快照
type MetricSnapshot struct {
	Id     uint64
	Name   string
	Typ    MetricType
	Labels map[string]string

	Value  float64
	Bounds []float64
	Counts []uint64
}

func (m *Metric) snapshot() *MetricSnapshot {
	var counts []uint64
	if n := len(m.counts); n > 0 {
		counts = make([]uint64, n)
		for i := range m.counts {
			counts[i] = m.counts[i].Load()
		}
	}

	return &MetricSnapshot{
		Id:     m.id,
		Typ:    m.typ,
		Name:   m.name,
		Labels: maps.Clone(m.labels),
		Value:  m.get(),
		Bounds: slices.Clone(m.bounds),
		Counts: counts,
	}
}

// Snapshot returns a point-in-time copy of every registered metric.
func Snapshot() []*MetricSnapshot {
	metricMu.RLock()
	defer metricMu.RUnlock()

	snapshots := make([]*MetricSnapshot, 0, len(metrics))
	for _, metric := range metrics {
		metric.initId()
		snapshots = append(snapshots, metric.snapshot())
	}

	return snapshots
}
