// Package orchestrator glues hardware events to jobs: it owns the state
// machine described for BKSD, turning a HardwareEvent stream into durable
// job records, progress updates, transfers, and verification passes.
//
// Grounded on the teacher's BackupManager (pkg/domain/manager.go): a
// top-level Run loop that ranges over an event channel and spawns one
// goroutine per unit of work, threading context through appcontext the
// same way.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bksd/bksd/pkg/appcontext"
	"github.com/bksd/bksd/pkg/domain"
	"github.com/bksd/bksd/pkg/transfer"
	"github.com/bksd/bksd/pkg/util"
	"github.com/bksd/bksd/pkg/verifier"
)

// retryBackoff is the brief fixed delay between whole-transfer-phase
// retries (spec §4.5/§7).
const retryBackoff = 2 * time.Second

// EngineFactory resolves a configured engine kind to a domain.TransferEngine.
type EngineFactory interface {
	Engine(kind string) (domain.TransferEngine, error)
}

// Verifier runs the post-copy content comparison.
type Verifier interface {
	Verify(ctx context.Context, sourceRoot, destinationRoot string, ticks chan<- domain.VerifyTick) (verifier.Result, error)
}

// Config carries the orchestrator's runtime policy.
type Config struct {
	BackupRoot      string
	TransferEngine  string
	VerifyTransfers bool
	RetryAttempts   uint32
}

// Orchestrator is the core state machine described in spec §4.5.
type Orchestrator struct {
	logger logrus.FieldLogger

	config   Config
	adapter  domain.HardwareAdapter
	engines  EngineFactory
	verifier Verifier

	persistence domain.Persistence
	progress    domain.ProgressTracker

	// cancels maps a device uuid to the cancel func of its in-flight job,
	// so handleDeviceRemoved can abort a running transfer/verify task.
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(
	logger logrus.FieldLogger,
	config Config,
	adapter domain.HardwareAdapter,
	engines EngineFactory,
	verifier Verifier,
	persistence domain.Persistence,
	progress domain.ProgressTracker,
) *Orchestrator {
	return &Orchestrator{
		logger:      logger,
		config:      config,
		adapter:     adapter,
		engines:     engines,
		verifier:    verifier,
		persistence: persistence,
		progress:    progress,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Run starts the adapter and ranges over its event stream until ctx is
// cancelled or the stream closes.
func (o *Orchestrator) Run(ctx context.Context) error {
	handle, err := o.adapter.Start(ctx)
	if err != nil {
		return errors.Wrap(err, "starting hardware adapter")
	}

	o.logger.Info("bksd orchestrator starting")

	for {
		select {
		case <-ctx.Done():
			handle.Cancel()
			return ctx.Err()
		case event, ok := <-handle.Events:
			if !ok {
				return nil
			}
			o.handleEvent(ctx, event)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, event domain.HardwareEvent) {
	switch event.Kind {
	case domain.EventDeviceAdded:
		go o.handleDeviceAdded(ctx, event.Device)
	case domain.EventDeviceRemoved:
		o.handleDeviceRemoved(ctx, event.UUID)
	}
}

func (o *Orchestrator) handleDeviceAdded(ctx context.Context, device domain.BlockDevice) {
	ctx = appcontext.WithDeviceUuid(ctx, device.UUID)
	logger := appcontext.LoggerFromContext(o.logger, ctx)

	logger.WithFields(logrus.Fields{
		"label":          device.DisplayLabel(),
		"mount_point":    device.MountPoint,
		"capacity_bytes": device.CapacityBytes,
		"filesystem":     device.Filesystem,
	}).Info("new device detected")

	target := domain.Target{
		UUID:             device.UUID,
		Label:            device.DisplayLabel(),
		CapacityBytes:    device.CapacityBytes,
		AdapterName:      string(device.Filesystem),
		SourceDevicePath: device.DevicePath,
		CreatedAt:        time.Now().UTC(),
	}
	if err := o.persistence.UpsertTarget(ctx, target); err != nil {
		logger.WithError(err).Error("unable to upsert target")
		return
	}

	jobID, err := uuid.NewV7()
	if err != nil {
		logger.WithError(err).Error("unable to mint job id")
		return
	}

	destination, err := util.ResolveDestination(o.config.BackupRoot, device.DisplayLabel(), time.Now())
	if err != nil {
		logger.WithError(err).Error("unable to resolve destination path")
		return
	}

	job := domain.Job{
		ID:              jobID.String(),
		TargetID:        device.UUID,
		DestinationPath: destination,
		CreatedAt:       time.Now().UTC(),
	}
	if err := o.persistence.CreateJob(ctx, job); err != nil {
		logger.WithError(err).Error("unable to create job")
		return
	}

	ctx = appcontext.WithJobId(ctx, job.ID)
	logger = appcontext.LoggerFromContext(o.logger, ctx)

	o.appendStatus(ctx, job.ID, domain.StatusReady, strPtr("job created"), nil, nil)
	o.progress.Set(job.ID, domain.JobStatus{State: domain.StatusReady})

	logger.WithField("destination", destination).Info("job created")

	o.runJob(ctx, device, job)
}

func (o *Orchestrator) handleDeviceRemoved(ctx context.Context, deviceUUID string) {
	logger := appcontext.LoggerFromContext(o.logger, appcontext.WithDeviceUuid(ctx, deviceUUID))

	if o.cancelRunningJob(deviceUUID) {
		logger.Info("device removed, aborting in-flight job")
	} else {
		logger.Info("device removed")
	}
}

func (o *Orchestrator) trackCancel(deviceUUID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[deviceUUID] = cancel
}

func (o *Orchestrator) untrackCancel(deviceUUID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancels, deviceUUID)
}

// cancelRunningJob cancels the in-flight job task tracked for deviceUUID, if
// any, and reports whether one was found.
func (o *Orchestrator) cancelRunningJob(deviceUUID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	cancel, ok := o.cancels[deviceUUID]
	if ok {
		cancel()
	}
	return ok
}

// runJob carries out the job task sequence: transfer, optional verify,
// finalize. Database writes happen only at state transitions; per-tick
// progress updates the Progress Tracker exclusively (spec §4.5 step 2).
func (o *Orchestrator) runJob(ctx context.Context, device domain.BlockDevice, job domain.Job) {
	logger := appcontext.LoggerFromContext(o.logger, ctx)

	o.appendStatus(ctx, job.ID, domain.StatusInProgress, strPtr("transfer started"), nil, nil)
	o.progress.Set(job.ID, domain.JobStatus{State: domain.StatusInProgress})

	engine, err := o.engines.Engine(o.config.TransferEngine)
	if err != nil {
		o.failJob(ctx, job.ID, err.Error())
		return
	}

	owner, ownerErr := util.BackupOwner(o.config.BackupRoot)
	if ownerErr != nil {
		logger.WithError(ownerErr).Warn("unable to resolve backup owner, proceeding without chown")
	}

	// jobCtx is cancelled by handleDeviceRemoved if this device's uuid is
	// torn down while the job is running; ctx itself stays live so status
	// writes below still go through after an abort.
	jobCtx, cancel := context.WithCancel(ctx)
	o.trackCancel(device.UUID, cancel)
	defer o.untrackCancel(device.UUID)
	defer cancel()

	// One initial attempt plus up to RetryAttempts retries.
	attempts := o.config.RetryAttempts + 1

	var summary domain.TransferSummary

	for attempt := uint32(1); ; attempt++ {
		progressCh := make(chan domain.TransferProgress, 16)
		progressDone := make(chan struct{})
		go func() {
			defer close(progressDone)
			o.consumeTransferProgress(job.ID, progressCh)
		}()

		summary, err = engine.Transfer(jobCtx, device.MountPoint, job.DestinationPath, &owner, progressCh)
		close(progressCh)
		// Drain every tick before any later tracker write, so a late tick
		// cannot re-add the job after a terminal Remove.
		<-progressDone

		if err == nil {
			break
		}

		if jobCtx.Err() != nil && ctx.Err() == nil {
			// Aborted because the device went away mid-transfer, not a
			// transient transfer failure: finalize immediately, no retry.
			o.failJob(ctx, job.ID, "device removed")
			return
		}

		if attempt >= attempts {
			o.failJob(ctx, job.ID, err.Error())
			return
		}

		logger.WithError(err).WithField("attempt", attempt).Warn("transfer failed, retrying")

		select {
		case <-time.After(retryBackoff):
		case <-jobCtx.Done():
			if ctx.Err() == nil {
				o.failJob(ctx, job.ID, "device removed")
				return
			}
			o.failJob(ctx, job.ID, err.Error())
			return
		}
	}

	if ownerErr == nil {
		if err := util.ChownRecursive(job.DestinationPath, owner); err != nil {
			logger.WithError(err).Warn("unable to chown destination, continuing")
		}
	}

	o.appendStatus(ctx, job.ID, domain.StatusCopyComplete, nil, nil, nil)
	o.progress.Set(job.ID, domain.JobStatus{State: domain.StatusCopyComplete})

	// Verification-skip is bound to the transfer engine kind (simulated),
	// never the adapter kind, per spec.
	if o.config.VerifyTransfers && !transfer.SkipsVerification(o.config.TransferEngine) {
		if !o.verify(jobCtx, ctx, job, device) {
			return
		}
	}

	duration := summary.DurationS
	o.appendStatus(ctx, job.ID, domain.StatusComplete, nil, &summary.TotalBytes, &duration)
	o.progress.Remove(job.ID)

	logger.WithFields(logrus.Fields{
		"total_bytes":       summary.TotalBytes,
		"total_bytes_human": humanize.Bytes(summary.TotalBytes),
		"duration_secs":     duration,
	}).Info("job complete")
}

func (o *Orchestrator) consumeTransferProgress(jobID string, progressCh <-chan domain.TransferProgress) {
	for tick := range progressCh {
		o.progress.Set(jobID, domain.JobStatus{
			State:       domain.StatusInProgress,
			TotalBytes:  tick.TotalBytes,
			BytesCopied: tick.BytesCopied,
			CurrentFile: tick.CurrentFile,
			Percentage:  tick.Percentage,
		})
	}
}

// verify runs the verifier: it appends the Verifying row when the phase
// starts, updates the tracker on every tick, and writes to the database
// again only once the phase ends, per spec §4.5 step 4. verifyCtx
// is the per-job context cancelled by handleDeviceRemoved; statusCtx is used
// for status/tracker writes so those still go through after an abort.
func (o *Orchestrator) verify(verifyCtx, statusCtx context.Context, job domain.Job, device domain.BlockDevice) bool {
	o.appendStatus(statusCtx, job.ID, domain.StatusVerifying, strPtr("0/0"), nil, nil)

	ticks := make(chan domain.VerifyTick, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for tick := range ticks {
			o.progress.Set(job.ID, domain.JobStatus{
				State:   domain.StatusVerifying,
				Current: tick.Current,
				Total:   tick.Total,
			})
		}
	}()

	result, err := o.verifier.Verify(verifyCtx, device.MountPoint, job.DestinationPath, ticks)
	close(ticks)
	<-done

	if err != nil {
		if verifyCtx.Err() != nil && statusCtx.Err() == nil {
			o.failJob(statusCtx, job.ID, "device removed")
			return false
		}
		o.failJob(statusCtx, job.ID, err.Error())
		return false
	}

	if !result.OK() {
		o.failJob(statusCtx, job.ID, errors.Errorf("verification found %d mismatches", len(result.Mismatches)).Error())
		return false
	}

	return true
}

func (o *Orchestrator) failJob(ctx context.Context, jobID, message string) {
	logger := appcontext.LoggerFromContext(o.logger, ctx)
	logger.WithField("error", message).Error("job failed")

	o.appendStatus(ctx, jobID, domain.StatusFailed, strPtr(message), nil, nil)
	o.progress.Remove(jobID)
}

func (o *Orchestrator) appendStatus(ctx context.Context, jobID string, tag domain.StatusTag, description *string, totalBytes, durationSecs *uint64) {
	if err := o.persistence.AppendStatus(ctx, jobID, tag, description, totalBytes, durationSecs); err != nil {
		appcontext.LoggerFromContext(o.logger, ctx).WithError(err).Error("unable to append job status")
	}
}

func strPtr(s string) *string { return &s }
