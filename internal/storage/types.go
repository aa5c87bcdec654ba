package storage

import (
	"context"
	"errors"
	"time"

	"remindkit/internal/models"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrExists   = errors.New("storage: already exists")
	// ErrInvalidTransition rejects instance status changes out of a terminal status.
	ErrInvalidTransition = errors.New("storage: invalid status transition")
	ErrClosed            = errors.New("storage: closed")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // file and sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the engine.
//
// List methods return rows ordered by fire time (instances, occurrences) or
// creation time (reminders, archive). An empty owner or track matches all.
type Store interface {
	CreateReminder(ctx context.Context, r *models.Reminder) error
	GetReminder(ctx context.Context, id string) (*models.Reminder, error)
	UpdateReminder(ctx context.Context, r *models.Reminder) error
	// DeleteReminder removes the record and every instance row it owns.
	// Ledger rows and archive entries are kept.
	DeleteReminder(ctx context.Context, id string) error
	ListReminders(ctx context.Context) ([]*models.Reminder, error)

	ListInstances(ctx context.Context, owner string, track models.Track) ([]models.Instance, error)
	InsertInstances(ctx context.Context, ins []models.Instance) error
	UpdateInstanceStatus(ctx context.Context, owner string, track models.Track, platformID string, status models.InstanceStatus, at time.Time) error

	// InsertArchived ignores a second archive of the same reminder id.
	InsertArchived(ctx context.Context, a models.ArchivedReminder) (inserted bool, err error)
	ListArchived(ctx context.Context) ([]models.ArchivedReminder, error)

	// InsertOccurrence ignores a duplicate (ReminderID, FireAt).
	InsertOccurrence(ctx context.Context, o models.RepeatOccurrence) (inserted bool, err error)
	ListOccurrences(ctx context.Context, owner string) ([]models.RepeatOccurrence, error)

	GetAlarmPermission(ctx context.Context) (st models.AlarmPermissionState, ok bool, err error)
	SetAlarmPermission(ctx context.Context, st models.AlarmPermissionState) error

	Close() error
}
