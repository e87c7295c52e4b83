package chatlog

import (
	"strings"
	"testing"
)

func TestIdempotencyKeyBySeq(t *testing.T) {
	msg := Message{Seq: i64(4567), Content: "hi"}
	if got := IdempotencyKey(PathWebhook, "team@chatroom", msg); got != "team@chatroom:4567" {
		t.Fatalf("webhook key = %q", got)
	}
	if got := IdempotencyKey(PathBackfill, "team@chatroom", msg); got != "4567" {
		t.Fatalf("backfill key = %q", got)
	}
}

func TestIdempotencyKeyHashFallback(t *testing.T) {
	msg := Message{Time: "2026-02-18T10:00:00+08:00", Sender: "wxid_1", Content: "hello"}
	k1 := IdempotencyKey(PathWebhook, "team@chatroom", msg)
	k2 := IdempotencyKey(PathBackfill, "team@chatroom", msg)
	if k1 != k2 {
		t.Fatalf("hash fallback should match across paths: %q vs %q", k1, k2)
	}
	if len(k1) != 64 || strings.ContainsAny(k1, ":@") {
		t.Fatalf("expected hex digest, got %q", k1)
	}
	// Any field change yields a different key.
	other := msg
	other.Content = "hello!"
	if IdempotencyKey(PathWebhook, "team@chatroom", other) == k1 {
		t.Fatal("different content produced the same key")
	}
	if IdempotencyKey(PathWebhook, "other@chatroom", msg) == k1 {
		t.Fatal("different talker produced the same key")
	}
}

func TestNewerThan(t *testing.T) {
	cases := []struct {
		name   string
		t1     string
		s1     *int64
		t2     string
		s2     *int64
		expect bool
	}{
		{"no stored time", "", nil, "2026-02-18T10:00:00Z", nil, true},
		{"later time", "2026-02-18T10:00:00Z", i64(5), "2026-02-18T10:01:00Z", i64(1), true},
		{"earlier time", "2026-02-18T10:00:00Z", i64(1), "2026-02-18T09:00:00Z", i64(99), false},
		{"equal time higher seq", "2026-02-18T10:00:00Z", i64(1), "2026-02-18T10:00:00Z", i64(2), true},
		{"equal time lower seq", "2026-02-18T10:00:00Z", i64(2), "2026-02-18T10:00:00Z", i64(1), false},
		{"equal time missing seq", "2026-02-18T10:00:00Z", i64(0), "2026-02-18T10:00:00Z", nil, false},
		{"equal time seq vs none", "2026-02-18T10:00:00Z", nil, "2026-02-18T10:00:00Z", i64(0), true},
		{"offset equivalence", "2026-02-18T10:00:00+08:00", i64(1), "2026-02-18T02:00:00Z", i64(2), true},
		{"garbage times lexicographic", "batch-09", nil, "batch-10", nil, true},
		{"garbage times stale", "batch-10", nil, "batch-09", nil, false},
	}
	for _, tc := range cases {
		if got := newerThan(tc.t1, tc.s1, tc.t2, tc.s2); got != tc.expect {
			t.Errorf("%s: newerThan = %v, want %v", tc.name, got, tc.expect)
		}
	}
}

func TestIngestPushDedupAndCheckpoint(t *testing.T) {
	s := newTestStore(t)
	ing := NewIngestor(s)
	talker := "48651409135@chatroom"
	target := &Target{
		Talker:        talker,
		Enabled:       true,
		GroupType:     GroupTypeInfoGap,
		CapturePolicy: CaptureKeyEvents,
	}
	msgs := []Message{
		{Seq: i64(100), Time: "2026-02-18T10:00:00+08:00", Sender: "a", Content: "urgent: ship today"},
		{Seq: i64(101), Time: "2026-02-18T10:05:00+08:00", Sender: "b", Content: "deadline moved"},
		{Seq: i64(102), Time: "2026-02-18T10:06:00+08:00", Sender: "c", Content: "lunch?"},
	}

	res, err := ing.IngestPush(talker, target, msgs)
	if err != nil {
		t.Fatalf("IngestPush: %v", err)
	}
	if len(res.Accepted) != 2 || res.Deduped != 1 {
		t.Fatalf("accepted=%d deduped=%d", len(res.Accepted), res.Deduped)
	}
	tm, seq, _ := s.LoadCheckpoint(talker)
	if tm != "2026-02-18T10:05:00+08:00" || seq == nil || *seq != 101 {
		t.Fatalf("checkpoint = (%q, %v), want accepted max", tm, seq)
	}

	// Full replay: everything is a duplicate, checkpoint untouched.
	res, err = ing.IngestPush(talker, target, msgs)
	if err != nil {
		t.Fatalf("IngestPush replay: %v", err)
	}
	if len(res.Accepted) != 0 || res.Deduped != 3 {
		t.Fatalf("replay accepted=%d deduped=%d", len(res.Accepted), res.Deduped)
	}
	tm, seq, _ = s.LoadCheckpoint(talker)
	if tm != "2026-02-18T10:05:00+08:00" || seq == nil || *seq != 101 {
		t.Fatalf("replay moved checkpoint: (%q, %v)", tm, seq)
	}
}

func TestIngestPushContactSkipsPolicy(t *testing.T) {
	s := newTestStore(t)
	ing := NewIngestor(s)
	// summary_only would reject everything for a group, but direct
	// contacts bypass the evaluator entirely.
	target := DefaultTarget("wxid_friend")
	res, err := ing.IngestPush("wxid_friend", target, []Message{
		{Seq: i64(1), Time: "2026-02-18T10:00:00Z", Content: "hey"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Accepted) != 1 {
		t.Fatalf("contact message rejected: %+v", res)
	}
}

func TestIngestPullFiltersBeforeMarking(t *testing.T) {
	s := newTestStore(t)
	ing := NewIngestor(s)
	talker := "team@chatroom"
	msgs := []Message{
		{Seq: i64(10), Time: "2026-02-18T10:00:00Z", Content: "noise"},
		{Seq: i64(11), Time: "2026-02-18T10:01:00Z", Content: "urgent fix"},
	}
	accept := func(_ string, m Message) bool { return isNotable(m.Content) }

	n, err := ing.IngestPull(talker, msgs, accept)
	if err != nil {
		t.Fatalf("IngestPull: %v", err)
	}
	if n != 1 {
		t.Fatalf("accepted = %d, want 1", n)
	}
	// The filtered message was never recorded, so it is still fresh.
	seen, _ := s.IsProcessed("10")
	if seen {
		t.Fatal("filtered message should not be marked processed")
	}
	seen, _ = s.IsProcessed("11")
	if !seen {
		t.Fatal("accepted message should be marked processed")
	}
	tm, seq, _ := s.LoadCheckpoint(talker)
	if tm != "2026-02-18T10:01:00Z" || seq == nil || *seq != 11 {
		t.Fatalf("checkpoint = (%q, %v)", tm, seq)
	}
}

func TestIngestPullNoAcceptsLeavesCheckpoint(t *testing.T) {
	s := newTestStore(t)
	ing := NewIngestor(s)
	reject := func(string, Message) bool { return false }
	n, err := ing.IngestPull("team@chatroom", []Message{
		{Seq: i64(1), Time: "2026-02-18T10:00:00Z", Content: "x"},
	}, reject)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	tm, _, _ := s.LoadCheckpoint("team@chatroom")
	if tm != "" {
		t.Fatalf("checkpoint should stay empty, got %q", tm)
	}
}

func TestHashFallbackDedupsAcrossPaths(t *testing.T) {
	s := newTestStore(t)
	ing := NewIngestor(s)
	talker := "wxid_friend"
	msg := Message{Time: "2026-02-18T10:00:00Z", Sender: "wxid_friend", Content: "no seq here"}

	res, err := ing.IngestPush(talker, nil, []Message{msg})
	if err != nil || len(res.Accepted) != 1 {
		t.Fatalf("push: res=%+v err=%v", res, err)
	}
	n, err := ing.IngestPull(talker, []Message{msg}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatal("pull should dedup a message already pushed without seq")
	}
}
