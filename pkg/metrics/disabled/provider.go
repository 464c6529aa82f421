/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package disabled

import (
	"github.com/SmartBFT-Go/commitbridge/pkg/api"
)

var _ api.Provider = &Provider{}

type Provider struct{}

func (p *Provider) NewCounter(o api.CounterOpts) api.Counter       { return &Counter{} }
func (p *Provider) NewGauge(o api.GaugeOpts) api.Gauge             { return &Gauge{} }
func (p *Provider) NewHistogram(o api.HistogramOpts) api.Histogram { return &Histogram{} }

type Counter struct{}

func (c *Counter) Add(delta float64) {}
func (c *Counter) With(labelValues ...string) api.Counter {
	return c
}

type Gauge struct{}

func (g *Gauge) Add(delta float64) {}
func (g *Gauge) Set(delta float64) {}
func (g *Gauge) With(labelValues ...string) api.Gauge {
	return g
}

type Histogram struct{}

func (h *Histogram) Observe(value float64) {}
func (h *Histogram) With(labelValues ...string) api.Histogram {
	return h
}
