package reminder

import (
	"context"
	"strconv"
	"time"

	appLog "schoolcal/internal/log"
)

// Reminder is a due reminder for one occurrence of an event.
type Reminder struct {
	SchoolID        string    `json:"schoolId"`
	EventID         string    `json:"eventId"`
	InstanceKey     string    `json:"instanceKey"`
	Title           string    `json:"title"`
	OccurrenceStart time.Time `json:"occurrenceStart"`
	LeadMinutes     int       `json:"leadMinutes"`
	RemindAt        time.Time `json:"remindAt"`

	VisibleToRoles    []string `json:"visibleToRoles"`
	VisibleToClasses  []string `json:"visibleToClasses,omitempty"`
	VisibleToSections []string `json:"visibleToSections,omitempty"`
}

// Key identifies the reminder across sweeps.
func (r Reminder) Key() string {
	return r.SchoolID + "/" + r.EventID + "/" + r.InstanceKey + "/" + strconv.Itoa(r.LeadMinutes)
}

// Dispatcher hands a due reminder to whatever delivers it.
type Dispatcher interface {
	Dispatch(ctx context.Context, r Reminder) error
}

// LogDispatcher writes due reminders to the application log.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, r Reminder) error {
	appLog.Info("reminder due",
		"school_id", r.SchoolID,
		"event_id", r.EventID,
		"title", r.Title,
		"starts_at", r.OccurrenceStart,
		"lead_minutes", r.LeadMinutes,
	)
	return nil
}
