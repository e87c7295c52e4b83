package chatlog

import (
	"sync"
	"time"
)

// Counters accumulates ingestion traffic for health reporting. All
// methods are safe for concurrent use; the aggregator itself never
// mutates ingestion state.
type Counters struct {
	mu sync.Mutex

	webhookAccepted int64
	webhookDeduped  int64
	lastWebhookAt   string

	backfillRuns     int64
	backfillAccepted int64
	errorStreak      int
	lastReport       Report
	lastBackfillAt   string
}

func NewCounters() *Counters {
	return &Counters{}
}

// RecordWebhook folds one webhook batch outcome into the totals.
func (c *Counters) RecordWebhook(accepted, deduped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.webhookAccepted += int64(accepted)
	c.webhookDeduped += int64(deduped)
	c.lastWebhookAt = time.Now().UTC().Format(time.RFC3339)
}

// RecordBackfill folds one poller cycle into the totals and maintains
// the consecutive-error streak.
func (c *Counters) RecordBackfill(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backfillRuns++
	c.backfillAccepted += int64(r.Accepted)
	if r.Errors > 0 {
		c.errorStreak++
	} else {
		c.errorStreak = 0
	}
	c.lastReport = r
	c.lastBackfillAt = time.Now().UTC().Format(time.RFC3339)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	WebhookAccepted  int64  `json:"webhook_accepted"`
	WebhookDeduped   int64  `json:"webhook_deduped"`
	LastWebhookAt    string `json:"last_webhook_at,omitempty"`
	BackfillRuns     int64  `json:"backfill_runs"`
	BackfillAccepted int64  `json:"backfill_accepted"`
	ErrorStreak      int    `json:"backfill_error_streak"`
	LastReport       Report `json:"last_backfill_report"`
	LastBackfillAt   string `json:"last_backfill_at,omitempty"`
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		WebhookAccepted:  c.webhookAccepted,
		WebhookDeduped:   c.webhookDeduped,
		LastWebhookAt:    c.lastWebhookAt,
		BackfillRuns:     c.backfillRuns,
		BackfillAccepted: c.backfillAccepted,
		ErrorStreak:      c.errorStreak,
		LastReport:       c.lastReport,
		LastBackfillAt:   c.lastBackfillAt,
	}
}

// Thresholds configure when the health signals trip.
type Thresholds struct {
	ErrorStreak   int
	DedupRatio    float64
	DedupMinTotal int64
}

// Signals are the derived health indicators.
type Signals struct {
	DedupRatio         float64 `json:"dedup_ratio"`
	BackfillErrorAlert bool    `json:"backfill_error_alert"`
	WebhookDedupAlert  bool    `json:"webhook_dedup_alert"`
}

// ComputeSignals derives the health signals from a counter snapshot.
// The dedup ratio is zero before any traffic has been seen.
func ComputeSignals(snap Snapshot, th Thresholds) Signals {
	var sig Signals
	total := snap.WebhookAccepted + snap.WebhookDeduped
	if total > 0 {
		sig.DedupRatio = float64(snap.WebhookDeduped) / float64(total)
	}
	if th.ErrorStreak > 0 && snap.ErrorStreak >= th.ErrorStreak {
		sig.BackfillErrorAlert = true
	}
	if th.DedupMinTotal > 0 && total >= th.DedupMinTotal && sig.DedupRatio >= th.DedupRatio {
		sig.WebhookDedupAlert = true
	}
	return sig
}

// Degraded reports whether any signal is in an alerting state.
func (s Signals) Degraded() bool {
	return s.BackfillErrorAlert || s.WebhookDedupAlert
}
