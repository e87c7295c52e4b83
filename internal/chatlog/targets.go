package chatlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	GroupTypeRelationship = "relationship"
	GroupTypeInfoGap      = "info_gap"
	GroupTypeLearning     = "learning"
	GroupTypeNotification = "notification"

	CaptureSummaryOnly = "summary_only"
	CaptureKeyEvents   = "key_events"
	CaptureHybrid      = "hybrid"
)

var (
	validGroupTypes = map[string]bool{
		GroupTypeRelationship: true,
		GroupTypeInfoGap:      true,
		GroupTypeLearning:     true,
		GroupTypeNotification: true,
	}
	validCapturePolicies = map[string]bool{
		CaptureSummaryOnly: true,
		CaptureKeyEvents:   true,
		CaptureHybrid:      true,
	}
	validNoiseLevels = map[string]bool{
		"low": true, "medium": true, "high": true,
	}
	validBuckets = map[string]bool{
		"00_Inbox":       true,
		"10_Growth":      true,
		"20_Connections": true,
		"30_Wealth":      true,
		"40_ProductMind": true,
	}
)

// Target is the per-talker monitoring policy.
type Target struct {
	Talker          string   `json:"talker"`
	Enabled         bool     `json:"enabled"`
	GroupType       string   `json:"group_type"`
	Importance      int      `json:"importance"`
	DefaultBucket   string   `json:"default_memory_bucket"`
	FocusTopics     []string `json:"focus_topics"`
	ImportantPeople []string `json:"important_people"`
	NoiseTolerance  string   `json:"noise_tolerance"`
	CapturePolicy   string   `json:"capture_policy"`
}

// TargetUpdate carries a partial update; nil fields keep their current
// value.
type TargetUpdate struct {
	Enabled         *bool     `json:"enabled,omitempty"`
	GroupType       *string   `json:"group_type,omitempty"`
	Importance      *int      `json:"importance,omitempty"`
	DefaultBucket   *string   `json:"default_memory_bucket,omitempty"`
	FocusTopics     *[]string `json:"focus_topics,omitempty"`
	ImportantPeople *[]string `json:"important_people,omitempty"`
	NoiseTolerance  *string   `json:"noise_tolerance,omitempty"`
	CapturePolicy   *string   `json:"capture_policy,omitempty"`
}

// DefaultTarget returns the policy a talker gets before any explicit
// configuration. Group chats land in 40_ProductMind as info-gap
// sources, direct contacts in 20_Connections.
func DefaultTarget(talker string) *Target {
	t := &Target{
		Talker:          talker,
		Enabled:         true,
		GroupType:       GroupTypeInfoGap,
		Importance:      3,
		DefaultBucket:   "40_ProductMind",
		FocusTopics:     []string{},
		ImportantPeople: []string{},
		NoiseTolerance:  "medium",
		CapturePolicy:   CaptureSummaryOnly,
	}
	if !IsGroupTalker(talker) {
		t.GroupType = GroupTypeRelationship
		t.DefaultBucket = "20_Connections"
	}
	return t
}

// TargetStore keeps targets in a single JSON file, reread on every
// operation so external edits are picked up.
type TargetStore struct {
	path string
	mu   sync.Mutex
}

func NewTargetStore(path string) *TargetStore {
	return &TargetStore{path: path}
}

func (ts *TargetStore) load() (map[string]*Target, error) {
	data, err := os.ReadFile(ts.path)
	if os.IsNotExist(err) {
		return map[string]*Target{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	var m map[string]*Target
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}
	if m == nil {
		m = map[string]*Target{}
	}
	return m, nil
}

func (ts *TargetStore) save(m map[string]*Target) error {
	if err := os.MkdirAll(filepath.Dir(ts.path), 0o755); err != nil {
		return fmt.Errorf("create targets dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode targets: %w", err)
	}
	tmp := ts.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write targets: %w", err)
	}
	if err := os.Rename(tmp, ts.path); err != nil {
		return fmt.Errorf("write targets: %w", err)
	}
	return nil
}

// Get returns the configured target for talker, or nil when none
// exists.
func (ts *TargetStore) Get(talker string) (*Target, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	m, err := ts.load()
	if err != nil {
		return nil, err
	}
	return m[talker], nil
}

// List returns every configured target sorted by talker.
func (ts *TargetStore) List() ([]*Target, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	m, err := ts.load()
	if err != nil {
		return nil, err
	}
	out := make([]*Target, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Talker < out[j].Talker })
	return out, nil
}

// EnabledTalkers returns the talkers with Enabled set, sorted.
func (ts *TargetStore) EnabledTalkers() ([]string, error) {
	list, err := ts.List()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range list {
		if t.Enabled {
			out = append(out, t.Talker)
		}
	}
	return out, nil
}

// Upsert creates or updates the target for talker, merging upd field by
// field. Enum fields with values outside their valid set are ignored
// and keep the previous value; importance is clamped to [1, 5].
func (ts *TargetStore) Upsert(talker string, upd TargetUpdate) (*Target, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	m, err := ts.load()
	if err != nil {
		return nil, err
	}
	t := m[talker]
	if t == nil {
		t = DefaultTarget(talker)
	}
	applyUpdate(t, upd)
	m[talker] = t
	if err := ts.save(m); err != nil {
		return nil, err
	}
	return t, nil
}

func applyUpdate(t *Target, upd TargetUpdate) {
	if upd.Enabled != nil {
		t.Enabled = *upd.Enabled
	}
	if upd.GroupType != nil && validGroupTypes[*upd.GroupType] {
		t.GroupType = *upd.GroupType
	}
	if upd.Importance != nil {
		v := *upd.Importance
		if v < 1 {
			v = 1
		}
		if v > 5 {
			v = 5
		}
		t.Importance = v
	}
	if upd.DefaultBucket != nil && validBuckets[*upd.DefaultBucket] {
		t.DefaultBucket = *upd.DefaultBucket
	}
	if upd.FocusTopics != nil {
		t.FocusTopics = *upd.FocusTopics
	}
	if upd.ImportantPeople != nil {
		t.ImportantPeople = *upd.ImportantPeople
	}
	if upd.NoiseTolerance != nil && validNoiseLevels[*upd.NoiseTolerance] {
		t.NoiseTolerance = *upd.NoiseTolerance
	}
	if upd.CapturePolicy != nil && validCapturePolicies[*upd.CapturePolicy] {
		t.CapturePolicy = *upd.CapturePolicy
	}
}

// Remove deletes the target for talker, reporting whether it existed.
func (ts *TargetStore) Remove(talker string) (bool, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	m, err := ts.load()
	if err != nil {
		return false, err
	}
	if _, ok := m[talker]; !ok {
		return false, nil
	}
	delete(m, talker)
	if err := ts.save(m); err != nil {
		return false, err
	}
	return true, nil
}

// Seed registers every talker in talkers that has no target yet, using
// defaults. Used at poller start so the configured watch list shows up
// in the targets API.
func (ts *TargetStore) Seed(talkers []string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	m, err := ts.load()
	if err != nil {
		return err
	}
	changed := false
	for _, talker := range talkers {
		if talker == "" {
			continue
		}
		if _, ok := m[talker]; !ok {
			m[talker] = DefaultTarget(talker)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return ts.save(m)
}
