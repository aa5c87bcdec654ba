package storage

import (
	"encoding/json"
	"time"

	"remindkit/internal/models"
)

// reminderDoc carries the zone name of FirstFireAt next to the record. JSON
// times only keep the offset, and native cadence math needs the named zone
// to follow DST.
type reminderDoc struct {
	models.Reminder
	Zone string `json:"zone,omitempty"`
}

func zoneName(t time.Time) string {
	name := t.Location().String()
	if name == "UTC" {
		return ""
	}
	return name
}

func restoreZone(t time.Time, zone string) time.Time {
	if zone == "" || t.IsZero() {
		return t
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return t
	}
	return t.In(loc)
}

func encodeReminder(r *models.Reminder) ([]byte, error) {
	return json.Marshal(reminderDoc{Reminder: *r, Zone: zoneName(r.FirstFireAt)})
}

func decodeReminder(b []byte) (*models.Reminder, error) {
	var d reminderDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	r := d.Reminder
	r.FirstFireAt = restoreZone(r.FirstFireAt, d.Zone)
	return &r, nil
}
