package registry

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	sxsync "github.com/chainmon/substrate-exporter/libs/sync"
)

// Type is the type of a metric.
type Type uint8

const (
	Counter Type = iota + 1
	Gauge
)

func (t Type) String() string {
	switch t {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Labels maps label names to values.
type Labels map[string]string

// LabelPair is a label of a Sample.
type LabelPair struct {
	Name  string
	Value string
}

// Sample is the value of one label-set of a metric at some instant.
type Sample struct {
	Name   string
	Type   Type
	Help   string
	Labels []LabelPair
	Value  float64
	// Time of the last write.
	Timestamp time.Time
}

// GaugeValue is a label-set and value for ReplaceGauge.
type GaugeValue struct {
	Labels Labels
	Value  float64
}

// Registry holds the current value of every declared metric.
//
// The registry lock only guards the set of families. Each family has its own
// lock, so writers of different metrics never wait on each other and a
// snapshot holds at most one family lock at a time.
type Registry struct {
	mtx      sxsync.RWMutex
	families map[string]*family

	ready atomic.Bool

	failOnce sync.Once
	fatal    chan struct{}
	err      error

	now func() time.Time
}

type family struct {
	mtx        sxsync.RWMutex
	name       string
	help       string
	typ        Type
	labelNames []string
	series     map[string]*series
	order      []*series
}

type series struct {
	labelValues []string
	value       float64
	updated     time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		families: make(map[string]*family),
		fatal:    make(chan struct{}),
		now:      time.Now,
	}
}

// Declare registers a metric. Declaring a name again with the same type and
// label names is a no-op; anything else fails with ErrDuplicateMetric.
func (r *Registry) Declare(name string, typ Type, help string, labelNames ...string) error {
	if typ != Counter && typ != Gauge {
		return fmt.Errorf("metric %s: invalid type %d", name, typ)
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if f, ok := r.families[name]; ok {
		if f.typ != typ || !equalStrings(f.labelNames, labelNames) {
			return ErrDuplicateMetric{Name: name, Existing: f.typ, Declared: typ}
		}
		return nil
	}
	r.families[name] = &family{
		name:       name,
		help:       help,
		typ:        typ,
		labelNames: append([]string(nil), labelNames...),
		series:     make(map[string]*series),
	}
	return nil
}

// SetGauge sets the value of a gauge label-set, creating it if needed.
func (r *Registry) SetGauge(name string, labels Labels, value float64) error {
	f, err := r.family(name, Gauge)
	if err != nil {
		return err
	}
	return f.update(labels, r.now(), func(s *series) { s.value = value })
}

// AddGauge adds delta, which may be negative, to a gauge label-set.
func (r *Registry) AddGauge(name string, labels Labels, delta float64) error {
	f, err := r.family(name, Gauge)
	if err != nil {
		return err
	}
	return f.update(labels, r.now(), func(s *series) { s.value += delta })
}

// IncrementCounter adds delta to a counter label-set. delta must not be
// negative.
func (r *Registry) IncrementCounter(name string, labels Labels, delta float64) error {
	f, err := r.family(name, Counter)
	if err != nil {
		return err
	}
	if delta < 0 || math.IsNaN(delta) {
		return ErrNegativeDelta{Name: name, Delta: delta}
	}
	return f.update(labels, r.now(), func(s *series) { s.value += delta })
}

// ReplaceGauge atomically replaces every label-set of a gauge with values.
// Label-sets not present in values disappear.
func (r *Registry) ReplaceGauge(name string, values []GaugeValue) error {
	f, err := r.family(name, Gauge)
	if err != nil {
		return err
	}
	now := r.now()
	next := make(map[string]*series, len(values))
	order := make([]*series, 0, len(values))
	for _, v := range values {
		lvs, err := f.labelValues(v.Labels)
		if err != nil {
			return err
		}
		key := seriesKey(lvs)
		if s, ok := next[key]; ok {
			s.value = v.Value
			continue
		}
		s := &series{labelValues: lvs, value: v.Value, updated: now}
		next[key] = s
		order = append(order, s)
	}
	f.mtx.Lock()
	f.series = next
	f.order = order
	f.mtx.Unlock()
	return nil
}

// Value returns the current value of a label-set.
func (r *Registry) Value(name string, labels Labels) (float64, bool) {
	r.mtx.RLock()
	f, ok := r.families[name]
	r.mtx.RUnlock()
	if !ok {
		return 0, false
	}
	lvs, err := f.labelValues(labels)
	if err != nil {
		return 0, false
	}
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	s, ok := f.series[seriesKey(lvs)]
	if !ok {
		return 0, false
	}
	return s.value, true
}

// Snapshot returns all samples ordered by metric name, then by label-set
// insertion order. Every sample holds a value its label-set had at some
// instant during the call.
func (r *Registry) Snapshot() []Sample {
	var out []Sample
	for _, f := range r.sortedFamilies() {
		f.mtx.RLock()
		for _, s := range f.order {
			out = append(out, Sample{
				Name:      f.name,
				Type:      f.typ,
				Help:      f.help,
				Labels:    f.pairs(s),
				Value:     s.value,
				Timestamp: s.updated,
			})
		}
		f.mtx.RUnlock()
	}
	return out
}

// MarkReady flags that the first block was processed.
func (r *Registry) MarkReady() {
	r.ready.Store(true)
}

// Ready reports whether MarkReady was called.
func (r *Registry) Ready() bool {
	return r.ready.Load()
}

// Fail latches a contract violation reported by a caller that cannot return
// errors, such as the go-kit adapters. Only the first error is kept.
func (r *Registry) Fail(err error) {
	r.failOnce.Do(func() {
		r.err = err
		close(r.fatal)
	})
}

// Fatal is closed once a contract violation was latched.
func (r *Registry) Fatal() <-chan struct{} {
	return r.fatal
}

// Err returns the latched contract violation, if any.
func (r *Registry) Err() error {
	select {
	case <-r.fatal:
		return r.err
	default:
		return nil
	}
}

func (r *Registry) family(name string, want Type) (*family, error) {
	r.mtx.RLock()
	f, ok := r.families[name]
	r.mtx.RUnlock()
	if !ok {
		return nil, ErrUnknownMetric{Name: name}
	}
	if f.typ != want {
		return nil, ErrTypeMismatch{Name: name, Want: want, Have: f.typ}
	}
	return f, nil
}

func (r *Registry) sortedFamilies() []*family {
	r.mtx.RLock()
	fams := make([]*family, 0, len(r.families))
	for _, f := range r.families {
		fams = append(fams, f)
	}
	r.mtx.RUnlock()
	sort.Slice(fams, func(i, j int) bool { return fams[i].name < fams[j].name })
	return fams
}

func (f *family) update(labels Labels, now time.Time, fn func(*series)) error {
	lvs, err := f.labelValues(labels)
	if err != nil {
		return err
	}
	key := seriesKey(lvs)
	f.mtx.Lock()
	defer f.mtx.Unlock()
	s, ok := f.series[key]
	if !ok {
		s = &series{labelValues: lvs}
		f.series[key] = s
		f.order = append(f.order, s)
	}
	fn(s)
	s.updated = now
	return nil
}

// labelValues orders the values of labels by the declared label names.
func (f *family) labelValues(labels Labels) ([]string, error) {
	if len(labels) != len(f.labelNames) {
		return nil, f.mismatch(labels)
	}
	lvs := make([]string, len(f.labelNames))
	for i, n := range f.labelNames {
		v, ok := labels[n]
		if !ok {
			return nil, f.mismatch(labels)
		}
		lvs[i] = v
	}
	return lvs, nil
}

func (f *family) mismatch(labels Labels) error {
	given := make([]string, 0, len(labels))
	for n := range labels {
		given = append(given, n)
	}
	sort.Strings(given)
	return ErrLabelMismatch{Name: f.name, Declared: f.labelNames, Given: given}
}

func (f *family) pairs(s *series) []LabelPair {
	if len(f.labelNames) == 0 {
		return nil
	}
	out := make([]LabelPair, len(f.labelNames))
	for i, n := range f.labelNames {
		out[i] = LabelPair{Name: n, Value: s.labelValues[i]}
	}
	return out
}

func seriesKey(lvs []string) string {
	return strings.Join(lvs, "\xff")
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
