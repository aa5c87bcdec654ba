package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindkit/internal/models"
	logx "remindkit/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

// sqlStore is shared by the sqlite and postgres drivers. Queries are written
// with ? placeholders and rebound per dialect. Times are unix nanoseconds.
type sqlStore struct {
	db     *sql.DB
	log    logx.Logger
	driver string
	rebind func(string) string
}

func bindQuestion(q string) string { return q }

// bindDollar rewrites ? placeholders to $1..$n.
func bindDollar(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", s.driver, err)
		}
	}
	return nil
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(v int64) time.Time { return time.Unix(0, v) }

func (s *sqlStore) CreateReminder(ctx context.Context, r *models.Reminder) error {
	b, err := encodeReminder(r)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `INSERT INTO reminders(id, created_at, data) VALUES(?,?,?) ON CONFLICT DO NOTHING`,
		r.ID, nanos(r.CreatedAt), string(b))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExists
	}
	return nil
}

func (s *sqlStore) GetReminder(ctx context.Context, id string) (*models.Reminder, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT data FROM reminders WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeReminder([]byte(data))
}

func (s *sqlStore) UpdateReminder(ctx context.Context, r *models.Reminder) error {
	b, err := encodeReminder(r)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE reminders SET data = ? WHERE id = ?`, string(b), r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) DeleteReminder(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM reminders WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM instances WHERE reminder_id = ?`), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) ListReminders(ctx context.Context) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM reminders ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Reminder
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		r, err := decodeReminder([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListInstances(ctx context.Context, owner string, track models.Track) ([]models.Instance, error) {
	q := `SELECT reminder_id, track, platform_id, fire_at, status, updated_at FROM instances WHERE 1=1`
	var args []any
	if owner != "" {
		q += ` AND reminder_id = ?`
		args = append(args, owner)
	}
	if track != "" {
		q += ` AND track = ?`
		args = append(args, string(track))
	}
	q += ` ORDER BY fire_at, track, platform_id`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Instance
	for rows.Next() {
		var (
			in               models.Instance
			tr, st           string
			fireAt, updateAt int64
		)
		if err := rows.Scan(&in.ReminderID, &tr, &in.PlatformID, &fireAt, &st, &updateAt); err != nil {
			return nil, err
		}
		in.Track = models.Track(tr)
		in.Status = models.InstanceStatus(st)
		in.FireAt = fromNanos(fireAt)
		in.UpdatedAt = fromNanos(updateAt)
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *sqlStore) InsertInstances(ctx context.Context, ins []models.Instance) error {
	if len(ins) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	q := s.rebind(`INSERT INTO instances(reminder_id, track, platform_id, fire_at, status, updated_at)
		VALUES(?,?,?,?,?,?) ON CONFLICT DO NOTHING`)
	for _, in := range ins {
		res, err := tx.ExecContext(ctx, q, in.ReminderID, string(in.Track), in.PlatformID,
			nanos(in.FireAt), string(in.Status), nanos(in.UpdatedAt))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrExists
		}
	}
	return tx.Commit()
}

func (s *sqlStore) UpdateInstanceStatus(ctx context.Context, owner string, track models.Track, platformID string, status models.InstanceStatus, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var cur string
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT status FROM instances WHERE reminder_id = ? AND track = ? AND platform_id = ?`),
		owner, string(track), platformID).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	from := models.InstanceStatus(cur)
	if !from.CanTransition(status) {
		return ErrInvalidTransition
	}
	if from == status {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE instances SET status = ?, updated_at = ? WHERE reminder_id = ? AND track = ? AND platform_id = ?`),
		string(status), nanos(at), owner, string(track), platformID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) InsertArchived(ctx context.Context, a models.ArchivedReminder) (bool, error) {
	b, err := encodeReminder(&a.Reminder)
	if err != nil {
		return false, err
	}
	var handled any
	if a.HandledAt != nil {
		handled = nanos(*a.HandledAt)
	}
	res, err := s.exec(ctx, `INSERT INTO archived(reminder_id, archived_at, handled_at, data) VALUES(?,?,?,?) ON CONFLICT DO NOTHING`,
		a.Reminder.ID, nanos(a.ArchivedAt), handled, string(b))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) ListArchived(ctx context.Context) ([]models.ArchivedReminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT archived_at, handled_at, data FROM archived ORDER BY archived_at, reminder_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ArchivedReminder
	for rows.Next() {
		var (
			archivedAt int64
			handled    sql.NullInt64
			data       string
		)
		if err := rows.Scan(&archivedAt, &handled, &data); err != nil {
			return nil, err
		}
		r, err := decodeReminder([]byte(data))
		if err != nil {
			return nil, err
		}
		a := models.ArchivedReminder{Reminder: *r, ArchivedAt: fromNanos(archivedAt)}
		if handled.Valid {
			t := fromNanos(handled.Int64)
			a.HandledAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) InsertOccurrence(ctx context.Context, o models.RepeatOccurrence) (bool, error) {
	content, err := json.Marshal(o.Content)
	if err != nil {
		return false, err
	}
	res, err := s.exec(ctx, `INSERT INTO occurrences(reminder_id, fire_at, source, content, recorded_at) VALUES(?,?,?,?,?) ON CONFLICT DO NOTHING`,
		o.ReminderID, nanos(o.FireAt), string(o.Source), string(content), nanos(o.RecordedAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) ListOccurrences(ctx context.Context, owner string) ([]models.RepeatOccurrence, error) {
	q := `SELECT reminder_id, fire_at, source, content, recorded_at FROM occurrences`
	var args []any
	if owner != "" {
		q += ` WHERE reminder_id = ?`
		args = append(args, owner)
	}
	q += ` ORDER BY fire_at, reminder_id`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RepeatOccurrence
	for rows.Next() {
		var (
			o                  models.RepeatOccurrence
			fireAt, recordedAt int64
			source, content    string
		)
		if err := rows.Scan(&o.ReminderID, &fireAt, &source, &content, &recordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(content), &o.Content); err != nil {
			return nil, err
		}
		o.FireAt = fromNanos(fireAt)
		o.RecordedAt = fromNanos(recordedAt)
		o.Source = models.OccurrenceSource(source)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetAlarmPermission(ctx context.Context) (models.AlarmPermissionState, bool, error) {
	var denied int
	var updated int64
	err := s.db.QueryRowContext(ctx, `SELECT denied, updated_at FROM alarm_permission WHERE id = 1`).Scan(&denied, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AlarmPermissionState{}, false, nil
	}
	if err != nil {
		return models.AlarmPermissionState{}, false, err
	}
	return models.AlarmPermissionState{Denied: denied != 0, UpdatedAt: fromNanos(updated)}, true, nil
}

func (s *sqlStore) SetAlarmPermission(ctx context.Context, st models.AlarmPermissionState) error {
	denied := 0
	if st.Denied {
		denied = 1
	}
	_, err := s.exec(ctx,
		`INSERT INTO alarm_permission(id, denied, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET denied = excluded.denied, updated_at = excluded.updated_at`,
		denied, nanos(st.UpdatedAt))
	return err
}
