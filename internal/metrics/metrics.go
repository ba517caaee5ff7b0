// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mobiletoly/go-billsync/billsync"
)

// Recorder exports applier stage timings and batch outcomes to Prometheus.
// It implements billsync.StageMetricsRecorder and billsync.BatchMetricsRecorder.
type Recorder struct {
	StageDuration *prometheus.HistogramVec
	Batches       *prometheus.CounterVec
	Actions       prometheus.Counter
	Unmatched     prometheus.Counter
	TxAttempts    prometheus.Histogram
}

// NewRecorder registers the sync collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billsync_stage_duration_ms",
			Help:    "Duration of sync stages in milliseconds, labelled by operation, stage and outcome.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"op", "stage", "error"}),

		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billsync_batches_total",
			Help: "Total number of submitted batches, labelled by outcome reason (ok on success).",
		}, []string{"reason"}),

		Actions: factory.NewCounter(prometheus.CounterOpts{
			Name: "billsync_actions_applied_total",
			Help: "Total number of actions committed.",
		}),

		Unmatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "billsync_actions_unmatched_total",
			Help: "Total number of committed Update/UpdateStatus actions that matched no bill.",
		}),

		TxAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "billsync_tx_attempts",
			Help:    "Transaction attempts needed per applied batch.",
			Buckets: []float64{1, 2, 3, 5, 10},
		}),
	}
}

func (r *Recorder) ObserveStage(_ context.Context, timing billsync.StageTiming) {
	r.StageDuration.
		WithLabelValues(timing.Operation, timing.Stage, strconv.FormatBool(timing.Error)).
		Observe(float64(timing.Duration.Microseconds()) / 1000)
}

func (r *Recorder) ObserveBatch(_ context.Context, outcome billsync.BatchOutcome) {
	reason := outcome.Reason
	if reason == "" {
		reason = "ok"
		r.Actions.Add(float64(outcome.Actions))
		r.Unmatched.Add(float64(outcome.Unmatched))
	}
	r.Batches.WithLabelValues(reason).Inc()
	if outcome.Attempts > 0 {
		r.TxAttempts.Observe(float64(outcome.Attempts))
	}
}
