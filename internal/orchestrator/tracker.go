package orchestrator

import (
	"strings"
	"sync"
	"time"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
	apperrors "github.com/mshibata0117/gitlab-mirror-manager/internal/errors"
)

// maxWarningLength caps recorded failure messages; project paths and remote
// error bodies can be attacker-influenced and arbitrarily long.
const maxWarningLength = 500

// BatchOperationTracker is an append-only ledger of per-item outcomes for a
// fixed-size batch. One tracker is constructed per batch run; counters only
// ever increase and succeeded+failed never exceeds the batch size.
type BatchOperationTracker struct {
	mu        sync.Mutex
	total     int
	succeeded int
	failed    int
	warnings  []string
	startedAt time.Time

	now func() time.Time
}

// NewTracker creates a tracker for a batch of total items
func NewTracker(total int) (*BatchOperationTracker, error) {
	if total < 0 {
		return nil, apperrors.NewConfigurationError("batch size must be non-negative")
	}
	t := &BatchOperationTracker{
		total: total,
		now:   time.Now,
	}
	t.startedAt = t.now()
	return t, nil
}

// RecordSuccess records one successfully processed item
func (t *BatchOperationTracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.succeeded+t.failed >= t.total {
		return
	}
	t.succeeded++
}

// RecordFailure records one failed item with a human-readable reason. The
// message is sanitized on insertion: control characters stripped and length
// capped.
func (t *BatchOperationTracker) RecordFailure(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.succeeded+t.failed >= t.total {
		return
	}
	t.failed++
	t.warnings = append(t.warnings, sanitizeWarning(message))
}

// Summary returns an immutable snapshot of the ledger. It is repeatable and
// read-only.
func (t *BatchOperationTracker) Summary() domain.BatchSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	warnings := make([]string, len(t.warnings))
	copy(warnings, t.warnings)

	return domain.BatchSummary{
		Succeeded:       t.succeeded,
		Failed:          t.failed,
		Total:           t.total,
		DurationSeconds: t.now().Sub(t.startedAt).Seconds(),
		Warnings:        warnings,
	}
}

// sanitizeWarning strips control characters and caps the message length
func sanitizeWarning(message string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, message)

	if len(cleaned) > maxWarningLength {
		cleaned = cleaned[:maxWarningLength]
	}
	return cleaned
}
