package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	appLog "schoolcal/internal/log"
	"schoolcal/internal/model"
)

// MemoryStore keeps events in memory, optionally mirrored to a YAML
// snapshot file that is rewritten after every mutation.
type MemoryStore struct {
	mu       sync.RWMutex
	schools  map[string]map[string]model.CalendarEvent
	dataFile string
	now      func() time.Time
}

// snapshot is the on-disk layout of the data file.
type snapshot struct {
	Events []model.CalendarEvent `yaml:"events"`
}

// NewMemoryStore returns an empty store without persistence.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schools: make(map[string]map[string]model.CalendarEvent),
		now:     time.Now,
	}
}

// Open returns a store backed by dataFile. A missing file yields an empty
// store; the file is created on the first mutation. An empty dataFile
// disables persistence.
func Open(dataFile string) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.dataFile = dataFile
	if dataFile == "" {
		return s, nil
	}

	data, err := os.ReadFile(dataFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, errors.Wrap(err, "store: read data file")
	}

	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "store: decode data file")
	}
	for _, ev := range snap.Events {
		s.put(ev)
	}
	appLog.Info("store loaded", "data_file", dataFile, "event_count", len(snap.Events))
	return s, nil
}

func (s *MemoryStore) Schools(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.schools))
	for id, events := range s.schools {
		if len(events) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, schoolID string) ([]model.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(schoolID, func(model.CalendarEvent) bool { return true }), nil
}

func (s *MemoryStore) ListBetween(_ context.Context, schoolID string, from, to time.Time) ([]model.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(schoolID, func(ev model.CalendarEvent) bool {
		if ev.StartDate.After(to) {
			return false
		}
		return ev.IsRecurring || !ev.EndDate.Before(from)
	}), nil
}

func (s *MemoryStore) Get(_ context.Context, schoolID, id string) (model.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.schools[schoolID][id]
	if !ok {
		return model.CalendarEvent{}, ErrNotFound
	}
	return clone(ev), nil
}

func (s *MemoryStore) Create(_ context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if _, ok := s.schools[ev.SchoolID][ev.ID]; ok {
		return model.CalendarEvent{}, ErrConflict
	}
	now := s.now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now

	s.put(ev)
	if err := s.persistLocked(); err != nil {
		return model.CalendarEvent{}, err
	}
	return clone(ev), nil
}

func (s *MemoryStore) Update(_ context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.schools[ev.SchoolID][ev.ID]
	if !ok {
		return model.CalendarEvent{}, ErrNotFound
	}
	ev.CreatedAt = prev.CreatedAt
	ev.UpdatedAt = s.now().UTC()

	s.put(ev)
	if err := s.persistLocked(); err != nil {
		return model.CalendarEvent{}, err
	}
	return clone(ev), nil
}

func (s *MemoryStore) Delete(_ context.Context, schoolID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schools[schoolID][id]; !ok {
		return ErrNotFound
	}
	delete(s.schools[schoolID], id)
	return s.persistLocked()
}

func (s *MemoryStore) Upsert(_ context.Context, events ...model.CalendarEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if prev, ok := s.schools[ev.SchoolID][ev.ID]; ok {
			ev.CreatedAt = prev.CreatedAt
		} else if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		ev.UpdatedAt = now
		s.put(ev)
	}
	return s.persistLocked()
}

func (s *MemoryStore) DeleteBySource(_ context.Context, schoolID, sourceID string, keep map[string]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, ev := range s.schools[schoolID] {
		if ev.SourceID == sourceID && !keep[id] {
			delete(s.schools[schoolID], id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persistLocked()
}

func (s *MemoryStore) put(ev model.CalendarEvent) {
	events, ok := s.schools[ev.SchoolID]
	if !ok {
		events = make(map[string]model.CalendarEvent)
		s.schools[ev.SchoolID] = events
	}
	events[ev.ID] = clone(ev)
}

// collect returns matching events of a school ordered by start, then ID.
func (s *MemoryStore) collect(schoolID string, match func(model.CalendarEvent) bool) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(s.schools[schoolID]))
	for _, ev := range s.schools[schoolID] {
		if match(ev) {
			out = append(out, clone(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// persistLocked writes the snapshot atomically: temp file in the same
// directory, 0600, then rename over the target. Callers hold s.mu.
func (s *MemoryStore) persistLocked() error {
	if s.dataFile == "" {
		return nil
	}

	var snap snapshot
	for _, events := range s.schools {
		for _, ev := range events {
			snap.Events = append(snap.Events, ev)
		}
	}
	sort.Slice(snap.Events, func(i, j int) bool {
		if snap.Events[i].SchoolID != snap.Events[j].SchoolID {
			return snap.Events[i].SchoolID < snap.Events[j].SchoolID
		}
		return snap.Events[i].ID < snap.Events[j].ID
	})

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return errors.Wrap(err, "store: encode snapshot")
	}

	dir := filepath.Dir(s.dataFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "store: create data dir")
	}

	tmp, err := os.CreateTemp(dir, ".schoolcal-data-*.tmp")
	if err != nil {
		return errors.Wrap(err, "store: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "store: write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "store: sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "store: close snapshot")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.Wrap(err, "store: chmod snapshot")
	}
	if err := os.Rename(tmpName, s.dataFile); err != nil {
		return errors.Wrap(err, "store: replace data file")
	}
	return nil
}

// clone copies the slices of ev so callers cannot mutate stored state.
func clone(ev model.CalendarEvent) model.CalendarEvent {
	ev.ExceptionDates = append([]time.Time(nil), ev.ExceptionDates...)
	ev.VisibleToRoles = append([]string(nil), ev.VisibleToRoles...)
	ev.VisibleToClasses = append([]string(nil), ev.VisibleToClasses...)
	ev.VisibleToSections = append([]string(nil), ev.VisibleToSections...)
	ev.ReminderMinutes = append([]int(nil), ev.ReminderMinutes...)
	return ev
}
