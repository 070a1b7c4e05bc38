package storage

import (
	"time"

	"github.com/google/uuid"
)

// newLogID mints a time-sortable id for a job_status_log row, the same
// UUIDv7 scheme used for job ids (spec §4.4).
func newLogID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
