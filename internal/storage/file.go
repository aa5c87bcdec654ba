package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"remindkit/internal/models"
	logx "remindkit/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic full snapshot)
//   - <prefix>.journal.jsonl (append-only journal of mutations)
//
// State lives in a memoryStore; every successful mutation is journaled and
// the journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	mem          *memoryStore
	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

const (
	opCreate     = "create"
	opUpdate     = "update"
	opDelete     = "delete"
	opInstances  = "instances"
	opStatus     = "status"
	opArchive    = "archive"
	opOccurrence = "occurrence"
	opPermission = "permission"
)

type journalRecord struct {
	Op         string                       `json:"op"`
	Reminder   json.RawMessage              `json:"reminder,omitempty"`
	ID         string                       `json:"id,omitempty"`
	Track      models.Track                 `json:"track,omitempty"`
	PlatformID string                       `json:"platform_id,omitempty"`
	Status     models.InstanceStatus        `json:"status,omitempty"`
	At         time.Time                    `json:"at,omitempty"`
	Instances  []models.Instance            `json:"instances,omitempty"`
	Archived   *models.ArchivedReminder     `json:"archived,omitempty"`
	Occurrence *models.RepeatOccurrence     `json:"occurrence,omitempty"`
	Permission *models.AlarmPermissionState `json:"permission,omitempty"`
}

type snapshot struct {
	Reminders   []json.RawMessage            `json:"reminders"`
	Instances   []models.Instance            `json:"instances"`
	Archived    []models.ArchivedReminder    `json:"archived"`
	Occurrences []models.RepeatOccurrence    `json:"occurrences"`
	Permission  *models.AlarmPermissionState `json:"permission,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	mem := newMemory()
	if err := loadSnapshot(snapPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	replayed, err := replayJournal(journalPath, mem)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("replayed", replayed))

	return &fileStore{
		log:          log,
		mem:          mem,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: 500,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	_ = s.mem.Close()
	if cerr != nil {
		return cerr
	}
	return err
}

// appendLocked journals rec and compacts every compactEvery writes.
func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) CreateReminder(ctx context.Context, r *models.Reminder) error {
	b, err := encodeReminder(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.mem.CreateReminder(ctx, r); err != nil {
		return err
	}
	return s.appendLocked(journalRecord{Op: opCreate, Reminder: b})
}

func (s *fileStore) GetReminder(ctx context.Context, id string) (*models.Reminder, error) {
	return s.mem.GetReminder(ctx, id)
}

func (s *fileStore) UpdateReminder(ctx context.Context, r *models.Reminder) error {
	b, err := encodeReminder(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.mem.UpdateReminder(ctx, r); err != nil {
		return err
	}
	return s.appendLocked(journalRecord{Op: opUpdate, Reminder: b})
}

func (s *fileStore) DeleteReminder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.mem.DeleteReminder(ctx, id); err != nil {
		return err
	}
	return s.appendLocked(journalRecord{Op: opDelete, ID: id})
}

func (s *fileStore) ListReminders(ctx context.Context) ([]*models.Reminder, error) {
	return s.mem.ListReminders(ctx)
}

func (s *fileStore) ListInstances(ctx context.Context, owner string, track models.Track) ([]models.Instance, error) {
	return s.mem.ListInstances(ctx, owner, track)
}

func (s *fileStore) InsertInstances(ctx context.Context, ins []models.Instance) error {
	if len(ins) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.mem.InsertInstances(ctx, ins); err != nil {
		return err
	}
	return s.appendLocked(journalRecord{Op: opInstances, Instances: ins})
}

func (s *fileStore) UpdateInstanceStatus(ctx context.Context, owner string, track models.Track, platformID string, status models.InstanceStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.mem.UpdateInstanceStatus(ctx, owner, track, platformID, status, at); err != nil {
		return err
	}
	return s.appendLocked(journalRecord{Op: opStatus, ID: owner, Track: track, PlatformID: platformID, Status: status, At: at})
}

func (s *fileStore) InsertArchived(ctx context.Context, a models.ArchivedReminder) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrClosed
	}
	inserted, err := s.mem.InsertArchived(ctx, a)
	if err != nil || !inserted {
		return inserted, err
	}
	return true, s.appendLocked(journalRecord{Op: opArchive, Archived: &a})
}

func (s *fileStore) ListArchived(ctx context.Context) ([]models.ArchivedReminder, error) {
	return s.mem.ListArchived(ctx)
}

func (s *fileStore) InsertOccurrence(ctx context.Context, o models.RepeatOccurrence) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrClosed
	}
	inserted, err := s.mem.InsertOccurrence(ctx, o)
	if err != nil || !inserted {
		return inserted, err
	}
	return true, s.appendLocked(journalRecord{Op: opOccurrence, Occurrence: &o})
}

func (s *fileStore) ListOccurrences(ctx context.Context, owner string) ([]models.RepeatOccurrence, error) {
	return s.mem.ListOccurrences(ctx, owner)
}

func (s *fileStore) GetAlarmPermission(ctx context.Context) (models.AlarmPermissionState, bool, error) {
	return s.mem.GetAlarmPermission(ctx)
}

func (s *fileStore) SetAlarmPermission(ctx context.Context, st models.AlarmPermissionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.mem.SetAlarmPermission(ctx, st); err != nil {
		return err
	}
	return s.appendLocked(journalRecord{Op: opPermission, Permission: &st})
}

func (s *fileStore) compactLocked() error {
	ctx := context.Background()
	snap := snapshot{}
	reminders, _ := s.mem.ListReminders(ctx)
	for _, r := range reminders {
		b, err := encodeReminder(r)
		if err != nil {
			return err
		}
		snap.Reminders = append(snap.Reminders, b)
	}
	snap.Instances, _ = s.mem.ListInstances(ctx, "", "")
	snap.Archived, _ = s.mem.ListArchived(ctx)
	snap.Occurrences, _ = s.mem.ListOccurrences(ctx, "")
	if st, ok, _ := s.mem.GetAlarmPermission(ctx); ok {
		snap.Permission = &st
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, mem *memoryStore) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	ctx := context.Background()
	for _, b := range snap.Reminders {
		r, err := decodeReminder(b)
		if err != nil {
			return err
		}
		_ = mem.CreateReminder(ctx, r)
	}
	_ = mem.InsertInstances(ctx, snap.Instances)
	for _, a := range snap.Archived {
		_, _ = mem.InsertArchived(ctx, a)
	}
	for _, o := range snap.Occurrences {
		_, _ = mem.InsertOccurrence(ctx, o)
	}
	if snap.Permission != nil {
		_ = mem.SetAlarmPermission(ctx, *snap.Permission)
	}
	return nil
}

// replayJournal applies every readable record. A torn last line from a crash
// is skipped.
func replayJournal(path string, mem *memoryStore) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	ctx := context.Background()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Op {
		case opCreate, opUpdate:
			r, err := decodeReminder(rec.Reminder)
			if err != nil {
				continue
			}
			if rec.Op == opCreate {
				_ = mem.CreateReminder(ctx, r)
			} else {
				_ = mem.UpdateReminder(ctx, r)
			}
		case opDelete:
			_ = mem.DeleteReminder(ctx, rec.ID)
		case opInstances:
			_ = mem.InsertInstances(ctx, rec.Instances)
		case opStatus:
			_ = mem.UpdateInstanceStatus(ctx, rec.ID, rec.Track, rec.PlatformID, rec.Status, rec.At)
		case opArchive:
			if rec.Archived != nil {
				_, _ = mem.InsertArchived(ctx, *rec.Archived)
			}
		case opOccurrence:
			if rec.Occurrence != nil {
				_, _ = mem.InsertOccurrence(ctx, *rec.Occurrence)
			}
		case opPermission:
			if rec.Permission != nil {
				_ = mem.SetAlarmPermission(ctx, *rec.Permission)
			}
		default:
			continue
		}
		n++
	}
	return n, sc.Err()
}
