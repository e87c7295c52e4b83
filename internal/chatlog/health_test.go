package chatlog

import "testing"

var testThresholds = Thresholds{ErrorStreak: 3, DedupRatio: 0.9, DedupMinTotal: 50}

func TestSignalsNoTraffic(t *testing.T) {
	sig := ComputeSignals(Snapshot{}, testThresholds)
	if sig.DedupRatio != 0 {
		t.Fatalf("dedup ratio with no traffic = %v", sig.DedupRatio)
	}
	if sig.Degraded() {
		t.Fatal("no traffic should not alert")
	}
}

func TestDedupRatio(t *testing.T) {
	sig := ComputeSignals(Snapshot{WebhookAccepted: 25, WebhookDeduped: 75}, testThresholds)
	if sig.DedupRatio != 0.75 {
		t.Fatalf("dedup ratio = %v", sig.DedupRatio)
	}
	if sig.WebhookDedupAlert {
		t.Fatal("ratio below threshold should not alert")
	}
}

func TestWebhookDedupAlert(t *testing.T) {
	// Ratio over threshold but sample too small: no alert.
	sig := ComputeSignals(Snapshot{WebhookAccepted: 1, WebhookDeduped: 30}, testThresholds)
	if sig.WebhookDedupAlert {
		t.Fatal("small sample should not alert")
	}
	// Enough traffic and ratio at/over threshold: alert.
	sig = ComputeSignals(Snapshot{WebhookAccepted: 5, WebhookDeduped: 95}, testThresholds)
	if !sig.WebhookDedupAlert {
		t.Fatal("expected webhook dedup alert")
	}
	if !sig.Degraded() {
		t.Fatal("alerting signals should report degraded")
	}
}

func TestBackfillErrorAlert(t *testing.T) {
	c := NewCounters()
	for i := 0; i < 3; i++ {
		c.RecordBackfill(Report{Scanned: 1, Errors: 1})
	}
	sig := ComputeSignals(c.Snapshot(), testThresholds)
	if !sig.BackfillErrorAlert {
		t.Fatal("three consecutive error cycles should alert")
	}

	// One clean cycle resets the streak.
	c.RecordBackfill(Report{Scanned: 1})
	sig = ComputeSignals(c.Snapshot(), testThresholds)
	if sig.BackfillErrorAlert {
		t.Fatal("clean cycle should reset the streak")
	}
}

func TestCountersRecordWebhook(t *testing.T) {
	c := NewCounters()
	c.RecordWebhook(2, 1)
	c.RecordWebhook(0, 3)
	snap := c.Snapshot()
	if snap.WebhookAccepted != 2 || snap.WebhookDeduped != 4 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.LastWebhookAt == "" {
		t.Fatal("last webhook timestamp not set")
	}
}
