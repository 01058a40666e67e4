package orchestrator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
)

// BatchItem is one unit of work in a batch: a named remote operation
type BatchItem struct {
	// Name identifies the item in logs and warnings, e.g. "mirror 42 -> https://..."
	Name string
	// Run performs the remote operation(s) for this item
	Run func(ctx context.Context) error
}

// RunBatch drives one GitLab operation per item, strictly in input order,
// respecting rate limiting and collecting a summary. A single item's failure
// never aborts the batch: the failure is recorded and the loop continues
// (best-effort policy). Single-item batches skip pacing entirely.
//
// On context cancellation the partial report accumulated so far is returned
// alongside the context error; already-performed remote side effects are not
// rolled back.
func RunBatch(ctx context.Context, log *logrus.Entry, cfg Config, name string, items []BatchItem) (*domain.BatchReport, error) {
	delay := cfg.Delay
	if len(items) <= 1 {
		// A single item needs no pacing.
		delay = 0
	}

	limiter, err := NewRateLimiter(delay, cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	tracker, err := NewTracker(len(items))
	if err != nil {
		return nil, err
	}
	limiter.StartTracking()

	var ctxErr error
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}

		if err := limiter.ExecuteWithRetry(ctx, item.Name, func() error { return item.Run(ctx) }); err != nil {
			if ctx.Err() != nil {
				ctxErr = ctx.Err()
				break
			}
			tracker.RecordFailure(err.Error())
			log.WithFields(logrus.Fields{
				"batch": name,
				"item":  item.Name,
			}).WithError(err).Warn("batch item failed")
		} else {
			tracker.RecordSuccess()
		}

		if i < len(items)-1 {
			if err := limiter.Delay(ctx); err != nil {
				ctxErr = err
				break
			}
		}
	}

	report := buildReport(tracker, limiter)
	log.WithFields(logrus.Fields{
		"batch":     name,
		"total":     report.Summary.Total,
		"succeeded": report.Summary.Succeeded,
		"failed":    report.Summary.Failed,
		"duration":  fmt.Sprintf("%.2fs", report.Summary.DurationSeconds),
		"ops_per_s": fmt.Sprintf("%.2f", report.Metrics.OperationsPerSecond),
	}).Info("batch completed")

	return report, ctxErr
}

// buildReport merges the tracker summary and limiter metrics
func buildReport(tracker *BatchOperationTracker, limiter *RateLimiter) *domain.BatchReport {
	summary := tracker.Summary()
	metrics := limiter.Metrics()
	return &domain.BatchReport{
		Summary: summary,
		Metrics: domain.BatchMetrics{
			CallsMade:           metrics.CallsMade,
			RetriesPerformed:    metrics.RetriesPerformed,
			TotalWaitMS:         metrics.TotalWait.Milliseconds(),
			OperationsPerSecond: metrics.OperationsPerSecond,
		},
	}
}
