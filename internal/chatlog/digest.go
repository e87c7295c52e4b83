package chatlog

import (
	"fmt"
	"time"
)

// DigestItem summarizes one summary-only conversation for one day.
type DigestItem struct {
	Talker   string
	Bucket   string
	Count    int
	LastSeen string
}

// BuildDailyDigest collects, for every enabled summary-only target, how
// many messages were recorded on the given day. Conversations with no
// traffic are skipped. summary_only targets never produce per-message
// notes, so this is their only representation in memory.
func BuildDailyDigest(store *Store, targets *TargetStore, day time.Time) ([]DigestItem, error) {
	list, err := targets.List()
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	date := day.UTC().Format("2006-01-02")
	var items []DigestItem
	for _, t := range list {
		if !t.Enabled || t.CapturePolicy != CaptureSummaryOnly {
			continue
		}
		count, err := store.CountProcessedOn(t.Talker, date)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			continue
		}
		cpTime, _, err := store.LoadCheckpoint(t.Talker)
		if err != nil {
			return nil, err
		}
		items = append(items, DigestItem{
			Talker:   t.Talker,
			Bucket:   BucketFor(t.Talker, t),
			Count:    count,
			LastSeen: cpTime,
		})
	}
	return items, nil
}

// BucketFor picks the memory bucket for notes about talker. Learning
// groups collect under growth, notification groups under the inbox,
// everything else uses the configured default (or the type default
// when unconfigured).
func BucketFor(talker string, target *Target) string {
	if target == nil {
		target = DefaultTarget(talker)
	}
	switch target.GroupType {
	case GroupTypeLearning:
		return "10_Growth"
	case GroupTypeNotification:
		return "00_Inbox"
	}
	if validBuckets[target.DefaultBucket] {
		return target.DefaultBucket
	}
	if IsGroupTalker(talker) {
		return "40_ProductMind"
	}
	return "20_Connections"
}
