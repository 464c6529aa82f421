/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package prometheus

import (
	"net/http"

	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ api.Provider = &Provider{}

// Provider creates meters registered on a prometheus.Registerer.
// Meters created twice with the same fully-qualified name share the same collector.
type Provider struct {
	Registry *prom.Registry
}

// NewProvider returns a Provider with its own registry.
func NewProvider() *Provider {
	return &Provider{Registry: prom.NewRegistry()}
}

// Handler serves the registry in the prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}

func (p *Provider) NewCounter(o api.CounterOpts) api.Counter {
	cv := prom.NewCounterVec(prom.CounterOpts{
		Namespace: o.Namespace,
		Subsystem: o.Subsystem,
		Name:      o.Name,
		Help:      o.Help,
	}, o.LabelNames)
	cv = register(p.Registry, cv).(*prom.CounterVec)
	return &Counter{vec: cv, names: o.LabelNames}
}

func (p *Provider) NewGauge(o api.GaugeOpts) api.Gauge {
	gv := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: o.Namespace,
		Subsystem: o.Subsystem,
		Name:      o.Name,
		Help:      o.Help,
	}, o.LabelNames)
	gv = register(p.Registry, gv).(*prom.GaugeVec)
	return &Gauge{vec: gv, names: o.LabelNames}
}

func (p *Provider) NewHistogram(o api.HistogramOpts) api.Histogram {
	hv := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: o.Namespace,
		Subsystem: o.Subsystem,
		Name:      o.Name,
		Help:      o.Help,
		Buckets:   o.Buckets,
	}, o.LabelNames)
	hv = register(p.Registry, hv).(*prom.HistogramVec)
	return &Histogram{vec: hv, names: o.LabelNames}
}

func register(r prom.Registerer, c prom.Collector) prom.Collector {
	if err := r.Register(c); err != nil {
		if are, ok := err.(prom.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// labels turns name/value pairs into prometheus labels. Every label name of the
// vector gets a value; names that were never provided are set to "".
func labels(names []string, pairs []string) prom.Labels {
	l := make(prom.Labels, len(names))
	for _, name := range names {
		l[name] = ""
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		l[pairs[i]] = pairs[i+1]
	}
	return l
}

type Counter struct {
	vec    *prom.CounterVec
	names  []string
	labels []string
}

func (c *Counter) With(labelValues ...string) api.Counter {
	return &Counter{vec: c.vec, names: c.names, labels: append(append([]string{}, c.labels...), labelValues...)}
}

func (c *Counter) Add(delta float64) {
	c.vec.With(labels(c.names, c.labels)).Add(delta)
}

type Gauge struct {
	vec    *prom.GaugeVec
	names  []string
	labels []string
}

func (g *Gauge) With(labelValues ...string) api.Gauge {
	return &Gauge{vec: g.vec, names: g.names, labels: append(append([]string{}, g.labels...), labelValues...)}
}

func (g *Gauge) Add(delta float64) {
	g.vec.With(labels(g.names, g.labels)).Add(delta)
}

func (g *Gauge) Set(value float64) {
	g.vec.With(labels(g.names, g.labels)).Set(value)
}

type Histogram struct {
	vec    *prom.HistogramVec
	names  []string
	labels []string
}

func (h *Histogram) With(labelValues ...string) api.Histogram {
	return &Histogram{vec: h.vec, names: h.names, labels: append(append([]string{}, h.labels...), labelValues...)}
}

func (h *Histogram) Observe(value float64) {
	h.vec.With(labels(h.names, h.labels)).Observe(value)
}
