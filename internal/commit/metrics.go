// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package commit

import metrics "github.com/SmartBFT-Go/commitbridge/pkg/api"

// Outcome is what reconciliation did with one transaction.
type Outcome string

const (
	OutcomeLocal       Outcome = "local"
	OutcomeRemote      Outcome = "remote"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeUnmatched   Outcome = "unmatched"
	OutcomeRejected    Outcome = "rejected"
	OutcomeDecodeError Outcome = "decode_error"
	OutcomeAppendError Outcome = "append_error"
)

const nameSpace = "commitbridge"

var pendingRequestsOpts = metrics.GaugeOpts{
	Namespace:    nameSpace,
	Subsystem:    "pending",
	Name:         "requests",
	Help:         "Count of requests waiting for their commit.",
	StatsdFormat: "%{#fqname}",
}

var countOfTimeoutsOpts = metrics.CounterOpts{
	Namespace:    nameSpace,
	Subsystem:    "pending",
	Name:         "timeouts",
	Help:         "Count of requests that timed out waiting for their commit.",
	StatsdFormat: "%{#fqname}",
}

var countOfRejectedOpts = metrics.CounterOpts{
	Namespace:    nameSpace,
	Subsystem:    "pending",
	Name:         "rejected",
	Help:         "Count of requests rejected because the table was full.",
	StatsdFormat: "%{#fqname}",
}

var countOfSubmittedOpts = metrics.CounterOpts{
	Namespace:    nameSpace,
	Subsystem:    "submitter",
	Name:         "submitted",
	Help:         "Count of transactions written to the consensus engine.",
	StatsdFormat: "%{#fqname}",
}

var countOfTransportErrorsOpts = metrics.CounterOpts{
	Namespace:    nameSpace,
	Subsystem:    "submitter",
	Name:         "transport_errors",
	Help:         "Count of transactions that could not be written to the consensus engine.",
	StatsdFormat: "%{#fqname}",
}

var countOfBlocksOpts = metrics.CounterOpts{
	Namespace:    nameSpace,
	Subsystem:    "listener",
	Name:         "blocks",
	Help:         "Count of commit blocks received.",
	StatsdFormat: "%{#fqname}",
}

var countOfMalformedLinesOpts = metrics.CounterOpts{
	Namespace:    nameSpace,
	Subsystem:    "listener",
	Name:         "malformed_lines",
	Help:         "Count of discarded RPC lines.",
	StatsdFormat: "%{#fqname}",
}

var latencyBlockOpts = metrics.HistogramOpts{
	Namespace:    nameSpace,
	Subsystem:    "listener",
	Name:         "block_seconds",
	Help:         "Time to reconcile one commit block.",
	Buckets:      []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	StatsdFormat: "%{#fqname}",
}

var countOfTransactionsOpts = metrics.CounterOpts{
	Namespace:    nameSpace,
	Subsystem:    "reconciler",
	Name:         "transactions",
	Help:         "Count of reconciled transactions by outcome.",
	LabelNames:   []string{"outcome"},
	StatsdFormat: "%{#fqname}.%{outcome}",
}

// Metrics encapsulates the commit path metrics.
type Metrics struct {
	PendingRequests     metrics.Gauge
	CountOfTimeouts     metrics.Counter
	CountOfRejected     metrics.Counter
	CountOfSubmitted    metrics.Counter
	CountTransportError metrics.Counter
	CountOfBlocks       metrics.Counter
	CountMalformedLines metrics.Counter
	LatencyBlock        metrics.Histogram

	transactions metrics.Counter
	labels       func(...string) []string
}

func NewMetrics(p *metrics.CustomerProvider) *Metrics {
	return &Metrics{
		PendingRequests:     p.NewGauge(pendingRequestsOpts).With(p.LabelsForWith()...),
		CountOfTimeouts:     p.NewCounter(countOfTimeoutsOpts).With(p.LabelsForWith()...),
		CountOfRejected:     p.NewCounter(countOfRejectedOpts).With(p.LabelsForWith()...),
		CountOfSubmitted:    p.NewCounter(countOfSubmittedOpts).With(p.LabelsForWith()...),
		CountTransportError: p.NewCounter(countOfTransportErrorsOpts).With(p.LabelsForWith()...),
		CountOfBlocks:       p.NewCounter(countOfBlocksOpts).With(p.LabelsForWith()...),
		CountMalformedLines: p.NewCounter(countOfMalformedLinesOpts).With(p.LabelsForWith()...),
		LatencyBlock:        p.NewHistogram(latencyBlockOpts).With(p.LabelsForWith()...),
		transactions:        p.NewCounter(countOfTransactionsOpts),
		labels:              p.LabelsForWith,
	}
}

// CountTransaction counts one reconciled transaction.
func (m *Metrics) CountTransaction(outcome Outcome) {
	m.transactions.With(m.labels("outcome", string(outcome))...).Add(1)
}
