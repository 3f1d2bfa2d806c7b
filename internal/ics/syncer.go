package ics

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"schoolcal/internal/config"
	appLog "schoolcal/internal/log"
	"schoolcal/internal/store"
)

// SyncReport summarizes one Sync run.
type SyncReport struct {
	Feeds    int      `json:"feeds"`
	Imported int      `json:"imported"`
	Removed  int      `json:"removed"`
	Failed   []string `json:"failed,omitempty"`
}

// Syncer imports holiday feeds into the store.
type Syncer struct {
	repo    store.Repository
	fetcher *Fetcher
	sources []Source

	// mu serializes runs from the cron job and the API.
	mu sync.Mutex
}

// NewSyncer returns a Syncer for sources.
func NewSyncer(repo store.Repository, fetcher *Fetcher, sources []Source) *Syncer {
	return &Syncer{repo: repo, fetcher: fetcher, sources: sources}
}

// SourcesFromConfig maps the configured holiday feeds to sources anchored
// in the configured timezone.
func SourcesFromConfig(cfg *config.Config) []Source {
	loc := cfg.Location()
	out := make([]Source, 0, len(cfg.HolidayFeeds))
	for _, f := range cfg.HolidayFeeds {
		out = append(out, Source{
			ID:         f.ID,
			Name:       f.Name,
			URL:        f.URL,
			SchoolID:   f.SchoolID,
			CategoryID: f.CategoryID,
			Location:   loc,
		})
	}
	return out
}

// Sync fetches every feed, upserts its events into the feed's school, and
// removes previously imported events that vanished from the feed. A feed
// that cannot be fetched or parsed keeps its previously imported events.
func (s *Syncer) Sync(ctx context.Context) (SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := SyncReport{Feeds: len(s.sources)}
	if len(s.sources) == 0 {
		return report, nil
	}
	started := time.Now()

	results, errs := s.fetcher.FetchAll(ctx, s.sources)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	fetched := make(map[string]bool, len(results))
	for _, res := range results {
		fetched[res.Source.ID] = true
		src := res.Source

		events, err := ParseICS(src, res.Body)
		if err != nil {
			report.Failed = append(report.Failed, src.ID)
			continue
		}

		keep := make(map[string]bool, len(events))
		for _, ev := range events {
			keep[ev.ID] = true
		}
		if err := s.repo.Upsert(ctx, events...); err != nil {
			return report, errors.Wrapf(err, "sync %s: upsert", src.ID)
		}
		removed, err := s.repo.DeleteBySource(ctx, src.SchoolID, src.ID, keep)
		if err != nil {
			return report, errors.Wrapf(err, "sync %s: remove stale", src.ID)
		}

		report.Imported += len(events)
		report.Removed += removed
		appLog.Info("feed synced", "id", src.ID, "school_id", src.SchoolID, "imported", len(events), "removed", removed, "from_cache", res.FromCache)
	}

	for _, src := range s.sources {
		if !fetched[src.ID] {
			report.Failed = append(report.Failed, src.ID)
		}
	}

	appLog.Info("feed sync completed",
		"feeds", report.Feeds,
		"imported", report.Imported,
		"removed", report.Removed,
		"failed", len(report.Failed),
		"fetch_errors", len(errs),
		"elapsed", time.Since(started).Round(time.Millisecond).String(),
	)
	return report, nil
}
