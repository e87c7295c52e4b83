package chatlog

import (
	"context"
	"fmt"
	"log"
	"time"
)

// FetchFunc pulls messages for one talker over a date range (inclusive,
// YYYY-MM-DD). Implementations are expected to be network calls; errors
// are isolated per talker.
type FetchFunc func(ctx context.Context, talker, fromDate, toDate string) ([]Message, error)

// Report is the cumulative outcome of one backfill cycle.
type Report struct {
	Scanned  int `json:"scanned"`
	Accepted int `json:"accepted"`
	Errors   int `json:"errors"`
}

// Backfiller sweeps enabled talkers once per call, pulling messages
// from the external chat-log service and funnelling them through the
// shared dedup pipeline.
type Backfiller struct {
	ing           *Ingestor
	targets       *TargetStore
	fetch         FetchFunc
	accept        AcceptFunc
	bootstrapDays int
}

func NewBackfiller(ing *Ingestor, targets *TargetStore, fetch FetchFunc, accept AcceptFunc, bootstrapDays int) *Backfiller {
	if bootstrapDays <= 0 {
		bootstrapDays = 3
	}
	return &Backfiller{
		ing:           ing,
		targets:       targets,
		fetch:         fetch,
		accept:        accept,
		bootstrapDays: bootstrapDays,
	}
}

// RunOnce performs one full sweep at the given wall-clock instant.
// Failures are counted per talker and never abort the sweep.
func (b *Backfiller) RunOnce(ctx context.Context, now time.Time) Report {
	var report Report
	talkers, err := b.targets.EnabledTalkers()
	if err != nil {
		log.Printf("[backfill] list talkers: %v", err)
		report.Errors++
		return report
	}
	today := now.UTC().Format("2006-01-02")
	for _, talker := range talkers {
		if talker == "" {
			continue
		}
		if ctx.Err() != nil {
			return report
		}
		report.Scanned++

		fromDate := now.UTC().AddDate(0, 0, -b.bootstrapDays).Format("2006-01-02")
		cpTime, _, err := b.ing.store.LoadCheckpoint(talker)
		if err != nil {
			log.Printf("[backfill] checkpoint %s: %v", talker, err)
			report.Errors++
			continue
		}
		if len(cpTime) >= 10 {
			fromDate = cpTime[:10]
		}

		msgs, err := b.fetch(ctx, talker, fromDate, today)
		if err != nil {
			log.Printf("[backfill] fetch %s: %v", talker, err)
			report.Errors++
			continue
		}
		accepted, err := b.ing.IngestPull(talker, msgs, b.accept)
		report.Accepted += accepted
		if err != nil {
			log.Printf("[backfill] ingest %s: %v", talker, err)
			report.Errors++
			continue
		}
	}
	return report
}

// Poller drives the Backfiller on a fixed interval until its context
// is cancelled.
type Poller struct {
	backfiller *Backfiller
	counters   *Counters
	interval   time.Duration

	// OnCycle, when set, observes each finished cycle's report. Used
	// to persist the aggregate memory note outside this package.
	OnCycle func(Report)
}

func NewPoller(backfiller *Backfiller, counters *Counters, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{backfiller: backfiller, counters: counters, interval: interval}
}

// Run loops forever, sweeping and then sleeping, and returns when ctx
// is cancelled. Cancellation mid-cycle abandons remaining talkers
// without touching committed state.
func (p *Poller) Run(ctx context.Context) {
	log.Printf("[backfill] poller started, interval %s", p.interval)
	for {
		report := p.backfiller.RunOnce(ctx, time.Now())
		if ctx.Err() != nil {
			log.Printf("[backfill] poller stopped")
			return
		}
		p.counters.RecordBackfill(report)
		if p.OnCycle != nil {
			p.OnCycle(report)
		}
		log.Printf("[backfill] cycle done: scanned=%d accepted=%d errors=%d",
			report.Scanned, report.Accepted, report.Errors)

		select {
		case <-ctx.Done():
			log.Printf("[backfill] poller stopped")
			return
		case <-time.After(p.interval):
		}
	}
}

// Summary renders the report for logs and notes.
func (r Report) Summary() string {
	return fmt.Sprintf("scanned=%d accepted=%d errors=%d", r.Scanned, r.Accepted, r.Errors)
}
