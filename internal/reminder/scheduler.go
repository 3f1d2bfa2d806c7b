package reminder

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"schoolcal/internal/calendar"
	"schoolcal/internal/ics"
	appLog "schoolcal/internal/log"
	"schoolcal/internal/model"
	"schoolcal/internal/store"
)

const (
	sweepTimeout = 4 * time.Minute
	syncTimeout  = 10 * time.Minute

	// firstSweepWindow is how far back the first sweep after start looks.
	firstSweepWindow = time.Minute
)

// FeedSyncer runs a holiday feed import.
type FeedSyncer interface {
	Sync(ctx context.Context) (ics.SyncReport, error)
}

// Options configures a Scheduler.
type Options struct {
	ReminderCron    string
	FeedRefreshCron string

	// Lookahead is the minimum distance each sweep expands events ahead;
	// events with a longer reminder lead expand as far as that lead.
	Lookahead time.Duration

	MaxOccurrencesPerEvent int

	// Location is used for cron schedules and occurrence keys.
	Location *time.Location
}

// Scheduler runs the reminder sweep and the feed sync on cron schedules.
type Scheduler struct {
	repo       store.Repository
	dispatcher Dispatcher
	syncer     FeedSyncer
	opts       Options
	now        func() time.Time

	// mu guards lastSweep and serializes sweeps.
	mu        sync.Mutex
	lastSweep time.Time
}

// New returns a Scheduler. A nil dispatcher logs reminders; a nil syncer
// disables the feed job.
func New(repo store.Repository, dispatcher Dispatcher, syncer FeedSyncer, opts Options) *Scheduler {
	if dispatcher == nil {
		dispatcher = LogDispatcher{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = 7 * 24 * time.Hour
	}
	return &Scheduler{
		repo:       repo,
		dispatcher: dispatcher,
		syncer:     syncer,
		opts:       opts,
		now:        time.Now,
	}
}

// Start registers the jobs and runs them until ctx is cancelled. It
// returns once the cron runner is started; on cancellation the runner
// stops and waits for running jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(s.opts.ReminderCron, func() { s.runSweep(ctx) }); err != nil {
		return errors.Wrapf(err, "reminder cron %q", s.opts.ReminderCron)
	}
	if s.syncer != nil && s.opts.FeedRefreshCron != "" {
		if _, err := c.AddFunc(s.opts.FeedRefreshCron, func() { s.runSync(ctx) }); err != nil {
			return errors.Wrapf(err, "feed refresh cron %q", s.opts.FeedRefreshCron)
		}
	}

	c.Start()
	appLog.Info("scheduler started",
		"reminder_cron", s.opts.ReminderCron,
		"feed_refresh_cron", s.opts.FeedRefreshCron,
		"lookahead", s.opts.Lookahead.String(),
	)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("scheduler stopped")
	}()
	return nil
}

func (s *Scheduler) runSweep(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, sweepTimeout)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		appLog.Error("reminder sweep failed", err)
	}
}

func (s *Scheduler) runSync(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, syncTimeout)
	defer cancel()
	if _, err := s.syncer.Sync(ctx); err != nil {
		appLog.Error("feed sync failed", err)
	}
}

// Sweep dispatches every reminder whose instant falls after the previous
// sweep and no later than now. The first sweep looks back one minute.
// It returns the number of reminders dispatched; dispatch failures are
// logged and do not stop the sweep.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	from := s.lastSweep
	if from.IsZero() {
		from = now.Add(-firstSweepWindow)
	}
	if !now.After(from) {
		return 0, nil
	}

	due, err := s.dueReminders(ctx, from, now)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, r := range due {
		if err := s.dispatcher.Dispatch(ctx, r); err != nil {
			appLog.Error("reminder dispatch failed", err, "key", r.Key())
			continue
		}
		sent++
	}
	s.lastSweep = now

	if len(due) > 0 {
		appLog.Info("reminder sweep completed", "due", len(due), "sent", sent)
	}
	return sent, nil
}

// dueReminders collects reminders with RemindAt in (from, to], ordered by
// RemindAt then key. Each event is expanded up to to plus the larger of the
// lookahead and its longest lead time.
func (s *Scheduler) dueReminders(ctx context.Context, from, to time.Time) ([]Reminder, error) {
	schools, err := s.repo.Schools(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list schools")
	}

	maxHorizon := to.Add(max(s.opts.Lookahead, time.Duration(model.MaxReminderMinutes)*time.Minute))
	out := make([]Reminder, 0)
	for _, school := range schools {
		events, err := s.repo.ListBetween(ctx, school, from, maxHorizon)
		if err != nil {
			return nil, errors.Wrapf(err, "list events of %s", school)
		}

		for _, ev := range events {
			if len(ev.ReminderMinutes) == 0 {
				continue
			}
			horizon := to.Add(max(s.opts.Lookahead, longestLead(ev)))
			res, err := calendar.ExpandEvents([]model.CalendarEvent{ev}, calendar.ExpandConfig{
				DisplayLocation:        s.opts.Location,
				EventLocation:          s.opts.Location,
				RangeStart:             from,
				RangeEnd:               horizon,
				MaxOccurrencesPerEvent: s.opts.MaxOccurrencesPerEvent,
			})
			if err != nil {
				return nil, err
			}

			for _, occ := range res.Occurrences {
				for _, lead := range ev.ReminderMinutes {
					at := calendar.ReminderTime(occ.Start, lead)
					if !at.After(from) || at.After(to) {
						continue
					}
					out = append(out, Reminder{
						SchoolID:          school,
						EventID:           ev.ID,
						InstanceKey:       occ.InstanceKey,
						Title:             ev.Title,
						OccurrenceStart:   occ.Start,
						LeadMinutes:       lead,
						RemindAt:          at,
						VisibleToRoles:    ev.VisibleToRoles,
						VisibleToClasses:  ev.VisibleToClasses,
						VisibleToSections: ev.VisibleToSections,
					})
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RemindAt.Equal(out[j].RemindAt) {
			return out[i].RemindAt.Before(out[j].RemindAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

func longestLead(ev model.CalendarEvent) time.Duration {
	longest := 0
	for _, lead := range ev.ReminderMinutes {
		longest = max(longest, lead)
	}
	return time.Duration(longest) * time.Minute
}

// cronLogger routes cron's own messages to appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
