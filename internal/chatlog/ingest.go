package chatlog

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Message is one chat message as delivered by the chatlog bridge,
// either pushed over the webhook or pulled by the backfill poller.
type Message struct {
	Seq        *int64 `json:"seq,omitempty"`
	Time       string `json:"time,omitempty"`
	Sender     string `json:"sender,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Content    string `json:"content,omitempty"`
	IsSelf     bool   `json:"isSelf,omitempty"`
}

// KeyPath selects the idempotency key scheme. The push and pull paths
// historically derived different keys from seq, so a message can be
// admitted once per path when it carries a seq. The content-hash
// fallback is identical on both paths and does dedup across them.
type KeyPath int

const (
	PathWebhook KeyPath = iota
	PathBackfill
)

// IdempotencyKey derives the dedup key for msg on the given path.
func IdempotencyKey(path KeyPath, talker string, msg Message) string {
	if msg.Seq != nil {
		if path == PathWebhook {
			return talker + ":" + strconv.FormatInt(*msg.Seq, 10)
		}
		return strconv.FormatInt(*msg.Seq, 10)
	}
	sender := msg.Sender
	if sender == "" {
		sender = msg.SenderName
	}
	raw := strings.Join([]string{talker, sender, msg.Time, msg.Content}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IsGroupTalker reports whether talker identifies a group chat rather
// than a direct contact.
func IsGroupTalker(talker string) bool {
	return strings.HasSuffix(talker, "@chatroom")
}

func seqOr(s *int64, def int64) int64 {
	if s == nil {
		return def
	}
	return *s
}

// newerThan reports whether the candidate watermark (t2, s2) is
// strictly newer than the stored one (t1, s1). Timestamps compare as
// RFC 3339 instants when both parse; equal instants fall back to seq
// (absent seq counts as -1); unparseable times compare as raw strings.
func newerThan(t1 string, s1 *int64, t2 string, s2 *int64) bool {
	if t1 == "" {
		return true
	}
	d1, err1 := time.Parse(time.RFC3339, t1)
	d2, err2 := time.Parse(time.RFC3339, t2)
	if err1 == nil && err2 == nil {
		if d2.After(d1) {
			return true
		}
		if d2.Equal(d1) {
			return seqOr(s2, -1) > seqOr(s1, -1)
		}
		return false
	}
	return t2 != "" && t2 > t1
}

// batchMax tracks the newest (time, seq) pair seen in one batch, using
// the same ordering rule the checkpoint uses.
type batchMax struct {
	time string
	seq  *int64
	set  bool
}

func (b *batchMax) observe(t string, s *int64) {
	if !b.set || newerThan(b.time, b.seq, t, s) {
		b.time = t
		b.seq = s
	}
	b.set = true
}

// AcceptFunc decides whether a pulled message should be admitted.
type AcceptFunc func(talker string, msg Message) bool

// Ingestor runs the shared dedup pipeline over a Store. The webhook
// handler and the backfill poller are thin adapters around it.
type Ingestor struct {
	store *Store
}

func NewIngestor(store *Store) *Ingestor {
	return &Ingestor{store: store}
}

// PushResult summarizes one webhook batch.
type PushResult struct {
	Accepted []Message
	Deduped  int
}

// IngestPush processes one pushed batch for talker. Every message is
// recorded in the dedup store first; messages for group talkers are
// then filtered through the target's acceptance policy, and rejected
// ones count as deduped. The checkpoint advances only when at least
// one message was accepted. A store failure aborts the whole batch.
func (ing *Ingestor) IngestPush(talker string, target *Target, msgs []Message) (PushResult, error) {
	isGroup := IsGroupTalker(talker)
	var max batchMax
	var res PushResult
	for _, m := range msgs {
		key := IdempotencyKey(PathWebhook, talker, m)
		fresh, err := ing.store.MarkProcessed(key, talker, m.Time)
		if err != nil {
			return PushResult{}, err
		}
		if !fresh {
			res.Deduped++
			continue
		}
		if isGroup && !ShouldAccept(target, m) {
			res.Deduped++
			continue
		}
		res.Accepted = append(res.Accepted, m)
		max.observe(m.Time, m.Seq)
	}
	if len(res.Accepted) > 0 {
		if err := ing.store.AdvanceCheckpoint(talker, max.time, max.seq); err != nil {
			return PushResult{}, err
		}
	}
	return res, nil
}

// IngestPull processes one pulled batch for talker, filtering through
// accept (nil accepts everything) before touching the dedup store.
// Returns the number of newly admitted messages.
func (ing *Ingestor) IngestPull(talker string, msgs []Message, accept AcceptFunc) (int, error) {
	var max batchMax
	accepted := 0
	for _, m := range msgs {
		if accept != nil && !accept(talker, m) {
			continue
		}
		key := IdempotencyKey(PathBackfill, talker, m)
		fresh, err := ing.store.MarkProcessed(key, talker, m.Time)
		if err != nil {
			return accepted, err
		}
		if !fresh {
			continue
		}
		accepted++
		max.observe(m.Time, m.Seq)
	}
	if accepted > 0 {
		if err := ing.store.AdvanceCheckpoint(talker, max.time, max.seq); err != nil {
			return accepted, err
		}
	}
	return accepted, nil
}

// PolicyAccept builds an AcceptFunc backed by the target store: group
// talkers go through their configured acceptance policy, direct
// contacts and unknown groups are always accepted.
func PolicyAccept(targets *TargetStore) AcceptFunc {
	return func(talker string, msg Message) bool {
		if !IsGroupTalker(talker) {
			return true
		}
		t, err := targets.Get(talker)
		if err != nil || t == nil {
			return true
		}
		return ShouldAccept(t, msg)
	}
}
