// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics owns the canonical set of named, labeled series the
// agent exposes. It wraps a dedicated prometheus.Registry rather than the
// global default registry so the agent never picks up process/Go runtime
// collectors it didn't ask for, and so tests can spin up disposable
// registries.
package metrics

import (
	"bytes"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
)

// Counter is a handle to a registered monotonic-counter family.
type Counter struct {
	vec    *prometheus.CounterVec
	labels []string
}

// Gauge is a handle to a registered gauge family.
type Gauge struct {
	vec    *prometheus.GaugeVec
	labels []string
}

// With instantiates (lazily, if new) the child series for the given label
// values, keyed by the label names this family was registered with.
func (c *Counter) With(labels map[string]string) (prometheus.Counter, error) {
	if len(labels) != len(c.labels) {
		return nil, agenterr.Wrap(agenterr.LabelCardinalityMismatch,
			"counter: expected "+itoa(len(c.labels))+" labels, got "+itoa(len(labels)))
	}
	return c.vec.With(prometheus.Labels(labels)), nil
}

// Add is a convenience wrapper: With(labels).Add(delta). delta must be >= 0
// per the monotonic-counter contract; callers enforce that upstream.
func (c *Counter) Add(labels map[string]string, delta float64) error {
	ctr, err := c.With(labels)
	if err != nil {
		return err
	}
	ctr.Add(delta)
	return nil
}

func (g *Gauge) With(labels map[string]string) (prometheus.Gauge, error) {
	if len(labels) != len(g.labels) {
		return nil, agenterr.Wrap(agenterr.LabelCardinalityMismatch,
			"gauge: expected "+itoa(len(g.labels))+" labels, got "+itoa(len(labels)))
	}
	return g.vec.With(prometheus.Labels(labels)), nil
}

func (g *Gauge) Set(labels map[string]string, value float64) error {
	gg, err := g.With(labels)
	if err != nil {
		return err
	}
	gg.Set(value)
	return nil
}

// Registry is the Metric Registry of the telemetry pipeline: the single
// place series are named, labeled, and later rendered to text or gathered
// structurally for the LTSB.
type Registry struct {
	mu       sync.RWMutex
	reg      *prometheus.Registry
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

func New() *Registry {
	return &Registry{
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

func (r *Registry) RegisterCounter(name, help string, labelNames []string) (*Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.counters[name]; exists {
		return nil, agenterr.Wrap(agenterr.AlreadyRegistered, "counter "+name+" already registered")
	}
	if _, exists := r.gauges[name]; exists {
		return nil, agenterr.Wrap(agenterr.AlreadyRegistered, "gauge "+name+" already registered under this name")
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labelNames)
	if err := r.reg.Register(vec); err != nil {
		return nil, agenterr.Wrap(agenterr.AlreadyRegistered, err.Error())
	}
	c := &Counter{vec: vec, labels: labelNames}
	r.counters[name] = c
	return c, nil
}

func (r *Registry) RegisterGauge(name, help string, labelNames []string) (*Gauge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.gauges[name]; exists {
		return nil, agenterr.Wrap(agenterr.AlreadyRegistered, "gauge "+name+" already registered")
	}
	if _, exists := r.counters[name]; exists {
		return nil, agenterr.Wrap(agenterr.AlreadyRegistered, "counter "+name+" already registered under this name")
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labelNames)
	if err := r.reg.Register(vec); err != nil {
		return nil, agenterr.Wrap(agenterr.AlreadyRegistered, err.Error())
	}
	g := &Gauge{vec: vec, labels: labelNames}
	r.gauges[name] = g
	return g, nil
}

// Counter looks up a previously registered counter family by name.
func (r *Registry) Counter(name string) (*Counter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.counters[name]
	return c, ok
}

func (r *Registry) Gauge(name string) (*Gauge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gauges[name]
	return g, ok
}

// MustCounter panics if the family isn't registered; reserved for
// collectors fetching their own families immediately after registering
// them at construction time (a programmer error otherwise).
func (r *Registry) MustCounter(name string) *Counter {
	c, ok := r.Counter(name)
	if !ok {
		panic("metrics: no such counter " + name)
	}
	return c
}

func (r *Registry) MustGauge(name string) *Gauge {
	g, ok := r.Gauge(name)
	if !ok {
		panic("metrics: no such gauge " + name)
	}
	return g
}

// EncodeText renders the full registry as one text/plain exposition
// document, ordered by family name and by the canonical label ordering
// prometheus' own text encoder already guarantees.
func (r *Registry) EncodeText() ([]byte, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, agenterr.Wrap(agenterr.EncodeFailure, err.Error())
	}
	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, agenterr.Wrap(agenterr.EncodeFailure, err.Error())
		}
	}
	return buf.Bytes(), nil
}

// Gather returns the structured family list, used by the LTSB's
// from-registry sample extraction.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, agenterr.Wrap(agenterr.EncodeFailure, err.Error())
	}
	return families, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
