package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"remindkit/internal/models"
)

type instanceKey struct {
	owner string
	track models.Track
	id    string
}

type occurrenceKey struct {
	owner string
	at    int64
}

func keyOf(i models.Instance) instanceKey {
	return instanceKey{owner: i.ReminderID, track: i.Track, id: i.PlatformID}
}

// memoryStore keeps everything in maps. The file driver replays its journal
// into one of these.
type memoryStore struct {
	mu          sync.Mutex
	closed      bool
	reminders   map[string]*models.Reminder
	instances   map[instanceKey]models.Instance
	archived    map[string]models.ArchivedReminder
	occurrences map[occurrenceKey]models.RepeatOccurrence
	perm        *models.AlarmPermissionState
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store { return newMemory() }

func newMemory() *memoryStore {
	return &memoryStore{
		reminders:   map[string]*models.Reminder{},
		instances:   map[instanceKey]models.Instance{},
		archived:    map[string]models.ArchivedReminder{},
		occurrences: map[occurrenceKey]models.RepeatOccurrence{},
	}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) CreateReminder(_ context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.reminders[r.ID]; ok {
		return ErrExists
	}
	s.reminders[r.ID] = r.Clone()
	return nil
}

func (s *memoryStore) GetReminder(_ context.Context, id string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *memoryStore) UpdateReminder(_ context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.reminders[r.ID]; !ok {
		return ErrNotFound
	}
	s.reminders[r.ID] = r.Clone()
	return nil
}

func (s *memoryStore) DeleteReminder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.reminders[id]; !ok {
		return ErrNotFound
	}
	delete(s.reminders, id)
	for k := range s.instances {
		if k.owner == id {
			delete(s.instances, k)
		}
	}
	return nil
}

func (s *memoryStore) ListReminders(context.Context) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) ListInstances(_ context.Context, owner string, track models.Track) ([]models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Instance
	for k, in := range s.instances {
		if owner != "" && k.owner != owner {
			continue
		}
		if track != "" && k.track != track {
			continue
		}
		out = append(out, in)
	}
	sortInstances(out)
	return out, nil
}

func sortInstances(out []models.Instance) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		if out[i].Track != out[j].Track {
			return out[i].Track < out[j].Track
		}
		return out[i].PlatformID < out[j].PlatformID
	})
}

func (s *memoryStore) InsertInstances(_ context.Context, ins []models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, in := range ins {
		if _, ok := s.instances[keyOf(in)]; ok {
			return ErrExists
		}
	}
	for _, in := range ins {
		s.instances[keyOf(in)] = in
	}
	return nil
}

func (s *memoryStore) UpdateInstanceStatus(_ context.Context, owner string, track models.Track, platformID string, status models.InstanceStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	k := instanceKey{owner: owner, track: track, id: platformID}
	in, ok := s.instances[k]
	if !ok {
		return ErrNotFound
	}
	if !in.Status.CanTransition(status) {
		return ErrInvalidTransition
	}
	if in.Status == status {
		return nil
	}
	in.Status = status
	in.UpdatedAt = at
	s.instances[k] = in
	return nil
}

func (s *memoryStore) InsertArchived(_ context.Context, a models.ArchivedReminder) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.archived[a.Reminder.ID]; ok {
		return false, nil
	}
	cp := a
	cp.Reminder = *a.Reminder.Clone()
	s.archived[a.Reminder.ID] = cp
	return true, nil
}

func (s *memoryStore) ListArchived(context.Context) ([]models.ArchivedReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ArchivedReminder, 0, len(s.archived))
	for _, a := range s.archived {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ArchivedAt.Equal(out[j].ArchivedAt) {
			return out[i].ArchivedAt.Before(out[j].ArchivedAt)
		}
		return out[i].Reminder.ID < out[j].Reminder.ID
	})
	return out, nil
}

func (s *memoryStore) InsertOccurrence(_ context.Context, o models.RepeatOccurrence) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	k := occurrenceKey{owner: o.ReminderID, at: o.FireAt.UnixNano()}
	if _, ok := s.occurrences[k]; ok {
		return false, nil
	}
	s.occurrences[k] = o
	return true, nil
}

func (s *memoryStore) ListOccurrences(_ context.Context, owner string) ([]models.RepeatOccurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RepeatOccurrence
	for k, o := range s.occurrences {
		if owner != "" && k.owner != owner {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].ReminderID < out[j].ReminderID
	})
	return out, nil
}

func (s *memoryStore) GetAlarmPermission(context.Context) (models.AlarmPermissionState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perm == nil {
		return models.AlarmPermissionState{}, false, nil
	}
	return *s.perm, true, nil
}

func (s *memoryStore) SetAlarmPermission(_ context.Context, st models.AlarmPermissionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.perm = &st
	return nil
}
