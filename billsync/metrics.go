// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billsync

import (
	"context"
	"time"
)

const (
	MetricsOpSubmit = "submit"
	MetricsOpList   = "list"

	MetricsStageTotal    = "total"
	MetricsStageValidate = "validate"
	MetricsStageApply    = "apply"
	MetricsStageRead     = "read"
)

type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Attempt   int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

// BatchOutcome summarizes one submission once it has committed or failed.
type BatchOutcome struct {
	Actions   int
	Unmatched int
	Attempts  int
	Reason    string // empty on success
}

// BatchMetricsRecorder is optionally implemented by a StageMetricsRecorder
// that also wants per-batch outcomes.
type BatchMetricsRecorder interface {
	ObserveBatch(ctx context.Context, outcome BatchOutcome)
}

func (s *SyncService) stageTimingEnabled() bool {
	if s == nil || s.config == nil {
		return false
	}
	return s.config.StageMetrics != nil || s.config.LogStageTimings
}

func (s *SyncService) stageStart() time.Time {
	if !s.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (s *SyncService) observeStage(ctx context.Context, op, stage string, start time.Time, count, attempt int, hadError bool) {
	if start.IsZero() || s == nil || s.config == nil {
		return
	}

	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Attempt:   attempt,
		Error:     hadError,
	}

	if s.config.StageMetrics != nil {
		s.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if s.config.LogStageTimings && s.logger != nil {
		s.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"attempt", timing.Attempt,
			"error", timing.Error,
		)
	}
}

func (s *SyncService) observeBatch(ctx context.Context, outcome BatchOutcome) {
	if s == nil || s.config == nil || s.config.StageMetrics == nil {
		return
	}
	if rec, ok := s.config.StageMetrics.(BatchMetricsRecorder); ok {
		rec.ObserveBatch(ctx, outcome)
	}
}
