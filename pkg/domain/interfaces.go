package domain

import "context"

// AdapterHandle is returned by a HardwareAdapter's Start call: the event
// stream, plus a Cancel func that stops the adapter. Giving up a single
// previously announced device goes through HardwareAdapter.Release.
type AdapterHandle struct {
	Events <-chan HardwareEvent
	Cancel func()
}

// HardwareAdapter produces a lazy, unbounded stream of HardwareEvent and
// owns the mount points it creates. Implementations: the udev-backed Linux
// adapter and the stdin-driven simulated adapter.
type HardwareAdapter interface {
	// Start begins producing events and returns a handle to the stream.
	Start(ctx context.Context) (AdapterHandle, error)

	// Release asks the adapter to unmount and forget a device it previously
	// announced via DeviceAdded. The orchestrator never unmounts directly.
	Release(ctx context.Context, uuid string) error
}

// TransferProgress is one tick emitted by a TransferEngine during a copy.
type TransferProgress struct {
	BytesCopied uint64
	TotalBytes  uint64
	CurrentFile string
	Percentage  uint8
}

// TransferSummary is returned by a successful TransferEngine.Transfer call.
type TransferSummary struct {
	TotalBytes uint64
	DurationS  uint64
}

// TransferError carries a human-readable message safe to persist verbatim.
type TransferError struct {
	Message string
}

func (e *TransferError) Error() string { return e.Message }

// TransferEngine copies a directory tree, emitting progress ticks.
type TransferEngine interface {
	Transfer(ctx context.Context, sourceDir, destinationDir string, owner *FileOwner, progress chan<- TransferProgress) (TransferSummary, error)
}

// FileOwner is the uid/gid pair backup files are chowned to after copy.
type FileOwner struct {
	UID int
	GID int
}

// MismatchKind enumerates the ways a verified file can fail comparison.
type MismatchKind string

const (
	MismatchMissingInDestination MismatchKind = "missing_in_destination"
	MismatchHashMismatch         MismatchKind = "hash_mismatch"
	MismatchTypeMismatch         MismatchKind = "type_mismatch"
)

// Mismatch is one offending relative path found during verification.
type Mismatch struct {
	RelativePath string
	Kind         MismatchKind
}

// VerifyTick reports verifier progress for the orchestrator to relay to the
// Progress Tracker.
type VerifyTick struct {
	Current uint64
	Total   uint64
}

// Persistence is the durable job/target/status-log store. Writes are
// serialized behind a single connection by the implementation; there are
// no updates or deletes.
type Persistence interface {
	UpsertTarget(ctx context.Context, target Target) error
	CreateJob(ctx context.Context, job Job) error
	AppendStatus(ctx context.Context, jobID string, tag StatusTag, description *string, totalBytes, durationSecs *uint64) error
	ListJobs(ctx context.Context, limit, offset uint32, statusFilter *string) ([]Job, error)
	GetJob(ctx context.Context, id string) (JobWithHistory, error)
}

// ProgressTracker is the concurrent, in-memory map from job id to the
// latest JobStatus. Never persisted, never survives restart.
type ProgressTracker interface {
	Set(jobID string, status JobStatus)
	Get(jobID string) (JobStatus, bool)
	Active() map[string]JobStatus
	Remove(jobID string)
}
