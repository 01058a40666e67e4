package domain

import "time"

// BatchSummary is the operator-facing result of one batch run
type BatchSummary struct {
	Succeeded       int      `json:"succeeded"`
	Failed          int      `json:"failed"`
	Total           int      `json:"total"`
	DurationSeconds float64  `json:"duration_seconds"`
	Warnings        []string `json:"warnings,omitempty"`
}

// BatchMetrics is a snapshot of rate limiter activity during a batch run
type BatchMetrics struct {
	CallsMade           int     `json:"calls_made"`
	RetriesPerformed    int     `json:"retries_performed"`
	TotalWaitMS         int64   `json:"total_wait_ms"`
	OperationsPerSecond float64 `json:"operations_per_second"`
}

// BatchReport combines the outcome ledger and rate limiter metrics of one
// batch run
type BatchReport struct {
	Summary BatchSummary `json:"summary"`
	Metrics BatchMetrics `json:"metrics"`
}

// WarningCount returns the number of per-item warnings in the report.
func (r *BatchReport) WarningCount() int {
	return len(r.Summary.Warnings)
}

// CascadeResult reports an instance deletion: the best-effort remote mirror
// cleanup plus how many local rows the database cascade removed
type CascadeResult struct {
	InstanceID     string       `json:"instance_id"`
	RemoteCleanup  *BatchReport `json:"remote_cleanup,omitempty"`
	MirrorsRemoved int          `json:"mirrors_removed"`
	PairsRemoved   int          `json:"pairs_removed"`
}

// InstanceHealth is one instance's result from a health sweep
type InstanceHealth struct {
	InstanceID string    `json:"instance_id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Reachable  bool      `json:"reachable"`
	Version    string    `json:"version,omitempty"`
	Edition    string    `json:"edition,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// HealthReport is the result of a health sweep over all instances
type HealthReport struct {
	Instances []*InstanceHealth `json:"instances"`
	Report    *BatchReport      `json:"report"`
}
