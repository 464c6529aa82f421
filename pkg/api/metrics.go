// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package api

import (
	"sort"
	"strings"
)

// A Provider is an abstraction for a metrics provider. It is a factory for
// Counter, Gauge, and Histogram meters.
type Provider interface {
	// NewCounter creates a new instance of a Counter.
	NewCounter(CounterOpts) Counter
	// NewGauge creates a new instance of a Gauge.
	NewGauge(GaugeOpts) Gauge
	// NewHistogram creates a new instance of a Histogram.
	NewHistogram(HistogramOpts) Histogram
}

// A Counter represents a monotonically increasing value.
type Counter interface {
	// With is used to provide label values when updating a Counter. This must be
	// used to provide values for all LabelNames provided to CounterOpts.
	With(labelValues ...string) Counter

	// Add increments a counter value.
	Add(delta float64)
}

// CounterOpts is used to provide basic information about a counter to the
// metrics subsystem.
type CounterOpts struct {
	// Namespace, Subsystem, and Name are components of the fully-qualified name
	// of the Metric. The fully-qualified aneme is created by joining these
	// components with an appropriate separator. Only Name is mandatory, the
	// others merely help structuring the name.
	Namespace string
	Subsystem string
	Name      string

	// Help provides information about this metric.
	Help string

	// LabelNames provides the names of the labels that can be attached to this
	// metric. When a metric is recorded, label values must be provided for each
	// of these label names.
	LabelNames []string

	// StatsdFormat determines how the fully-qualified statsd bucket name is
	// constructed from Namespace, Subsystem, Name, and Labels.
	StatsdFormat string
}

// A Gauge is a meter that expresses the current value of some metric.
type Gauge interface {
	// With is used to provide label values when recording a Gauge value. This
	// must be used to provide values for all LabelNames provided to GaugeOpts.
	With(labelValues ...string) Gauge

	// Add increments a Gauge value.
	Add(delta float64)

	// Set is used to update the current value associated with a Gauge.
	Set(value float64)
}

// GaugeOpts is used to provide basic information about a gauge to the
// metrics subsystem.
type GaugeOpts struct {
	Namespace    string
	Subsystem    string
	Name         string
	Help         string
	LabelNames   []string
	StatsdFormat string
}

// A Histogram is a meter that records an observed value into quantized
// buckets.
type Histogram interface {
	// With is used to provide label values when recording a Histogram
	// observation. This must be used to provide values for all LabelNames
	// provided to HistogramOpts.
	With(labelValues ...string) Histogram
	Observe(value float64)
}

// HistogramOpts is used to provide basic information about a histogram to the
// metrics subsystem.
type HistogramOpts struct {
	Namespace    string
	Subsystem    string
	Name         string
	Help         string
	LabelNames   []string
	StatsdFormat string

	// Buckets can be used to provide the bucket boundaries for Prometheus. When
	// omitted, the default Prometheus bucket values are used.
	Buckets []float64
}

// CustomerProvider wraps a Provider and attaches a fixed set of labels to
// every meter it creates.
type CustomerProvider struct {
	Provider
	Labels map[string]string
}

// NewCustomerProvider takes the fixed labels as name/value pairs.
func NewCustomerProvider(p Provider, labelPairs ...string) *CustomerProvider {
	labels := make(map[string]string, len(labelPairs)/2)
	for i := 0; i+1 < len(labelPairs); i += 2 {
		labels[labelPairs[i]] = labelPairs[i+1]
	}
	return &CustomerProvider{Provider: p, Labels: labels}
}

func (p *CustomerProvider) sortedLabelNames() []string {
	names := make([]string, 0, len(p.Labels))
	for name := range p.Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MakeLabelNames returns names followed by the fixed label names in sorted order.
func (p *CustomerProvider) MakeLabelNames(names ...string) []string {
	out := make([]string, 0, len(names)+len(p.Labels))
	out = append(out, names...)
	return append(out, p.sortedLabelNames()...)
}

// LabelsForWith returns the name/value pairs followed by the fixed label pairs, ready for With.
func (p *CustomerProvider) LabelsForWith(labelValues ...string) []string {
	out := make([]string, 0, len(labelValues)+2*len(p.Labels))
	out = append(out, labelValues...)
	for _, name := range p.sortedLabelNames() {
		out = append(out, name, p.Labels[name])
	}
	return out
}

// MakeStatsdFormat appends the fixed labels to a statsd bucket format.
func (p *CustomerProvider) MakeStatsdFormat(format string) string {
	var sb strings.Builder
	sb.WriteString(format)
	for _, name := range p.sortedLabelNames() {
		sb.WriteString(".%{")
		sb.WriteString(name)
		sb.WriteString("}")
	}
	return sb.String()
}

// NewCounter creates a Counter carrying the fixed labels; callers must pass them through LabelsForWith.
func (p *CustomerProvider) NewCounter(o CounterOpts) Counter {
	o.LabelNames = p.MakeLabelNames(o.LabelNames...)
	o.StatsdFormat = p.MakeStatsdFormat(o.StatsdFormat)
	return p.Provider.NewCounter(o)
}

// NewGauge creates a Gauge carrying the fixed labels.
func (p *CustomerProvider) NewGauge(o GaugeOpts) Gauge {
	o.LabelNames = p.MakeLabelNames(o.LabelNames...)
	o.StatsdFormat = p.MakeStatsdFormat(o.StatsdFormat)
	return p.Provider.NewGauge(o)
}

// NewHistogram creates a Histogram carrying the fixed labels.
func (p *CustomerProvider) NewHistogram(o HistogramOpts) Histogram {
	o.LabelNames = p.MakeLabelNames(o.LabelNames...)
	o.StatsdFormat = p.MakeStatsdFormat(o.StatsdFormat)
	return p.Provider.NewHistogram(o)
}
