package domain

import "time"

// Target is the persistent record of a device ever seen, keyed by uuid.
type Target struct {
	UUID             string    `db:"uuid"`
	Label            string    `db:"label"`
	CapacityBytes    uint64    `db:"capacity_bytes"`
	AdapterName      string    `db:"adapter_name"`
	SourceDevicePath string    `db:"source_device_path"`
	CreatedAt        time.Time `db:"created_at"`
}

// Job is a single attempt to back up a target.
type Job struct {
	ID              string    `db:"id"`
	TargetID        string    `db:"target_id"`
	DestinationPath string    `db:"destination_path"`
	CreatedAt       time.Time `db:"created_at"`

	// Status is the latest status tag, joined in by the repository layer;
	// it is not a column of the jobs table itself.
	Status string `db:"status"`
}

// JobWithHistory bundles a Job with its full, ordered JobStatusLog.
type JobWithHistory struct {
	Job
	History []JobStatusLogEntry `json:"history"`
}

// JobStatusLogEntry is one immutable row of the job_status_log table.
type JobStatusLogEntry struct {
	ID            string    `db:"id" json:"id"`
	JobID         string    `db:"job_id" json:"job_id"`
	StatusTag     string    `db:"status_tag" json:"status_tag"`
	Description   *string   `db:"description" json:"description,omitempty"`
	TotalBytes    *uint64   `db:"total_bytes" json:"total_bytes,omitempty"`
	DurationSecs  *uint64   `db:"duration_secs" json:"duration_secs,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// StatusTag enumerates the JobStatus variants as they are persisted in
// job_status_log.status_tag and serialized over RPC in the "state" field.
type StatusTag string

const (
	StatusReady        StatusTag = "ready"
	StatusInProgress   StatusTag = "in_progress"
	StatusCopyComplete StatusTag = "copy_complete"
	StatusVerifying    StatusTag = "verifying"
	StatusComplete     StatusTag = "complete"
	StatusFailed       StatusTag = "failed"
)

// JobStatus is the flat Go rendering of the tagged JobStatus union: the
// fields populated depend on State, mirroring how the original Rust
// implementation serializes an externally-tagged enum to JSON.
type JobStatus struct {
	State StatusTag `json:"state"`

	// InProgress fields.
	TotalBytes  uint64  `json:"total_bytes,omitempty"`
	BytesCopied uint64  `json:"bytes_copied,omitempty"`
	CurrentFile string  `json:"current_file,omitempty"`
	Percentage  uint8   `json:"percentage,omitempty"`

	// Verifying fields.
	Current uint64 `json:"current,omitempty"`
	Total   uint64 `json:"total,omitempty"`

	// Complete fields.
	DurationSecs uint64 `json:"duration_secs,omitempty"`

	// Failed field.
	Message string `json:"message,omitempty"`
}

// IsTerminal reports whether the state is Complete or Failed, i.e. whether
// the job should no longer have an entry in the Progress Tracker.
func (s JobStatus) IsTerminal() bool {
	return s.State == StatusComplete || s.State == StatusFailed
}
