package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"schoolcal/internal/model"
)

var (
	// ErrNotFound is returned when an event does not exist in the school.
	ErrNotFound = errors.New("event not found")
	// ErrConflict is returned when creating an event whose ID is taken.
	ErrConflict = errors.New("event already exists")
)

// Repository stores calendar events scoped by school.
type Repository interface {
	// Schools lists every school that owns at least one event.
	Schools(ctx context.Context) ([]string, error)

	List(ctx context.Context, schoolID string) ([]model.CalendarEvent, error)

	// ListBetween returns events that may have occurrences in [from, to]:
	// recurring events starting no later than to, and other events
	// overlapping the window.
	ListBetween(ctx context.Context, schoolID string, from, to time.Time) ([]model.CalendarEvent, error)

	Get(ctx context.Context, schoolID, id string) (model.CalendarEvent, error)
	Create(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error)
	Update(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error)
	Delete(ctx context.Context, schoolID, id string) error

	// Upsert creates or replaces events by ID, keeping CreatedAt of
	// replaced events.
	Upsert(ctx context.Context, events ...model.CalendarEvent) error

	// DeleteBySource removes events imported from sourceID into schoolID
	// whose IDs are not in keep. It returns the number removed.
	DeleteBySource(ctx context.Context, schoolID, sourceID string, keep map[string]bool) (int, error)
}
