// Package orchestratorfx wires the transfer engine factory, verifier, and
// core Orchestrator state machine into the fx graph, replacing the
// teacher's rule/rotation-scheduling domainfx package (dropped: see
// DESIGN.md) with BKSD's device-driven job orchestration.
package orchestratorfx

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"

	"github.com/bksd/bksd/internal/configfx"
	"github.com/bksd/bksd/pkg/domain"
	"github.com/bksd/bksd/pkg/orchestrator"
	"github.com/bksd/bksd/pkg/progress"
	"github.com/bksd/bksd/pkg/transfer"
	"github.com/bksd/bksd/pkg/transfer/rsyncengine"
	"github.com/bksd/bksd/pkg/transfer/simengine"
	"github.com/bksd/bksd/pkg/verifier"
)

func ProgressTracker() domain.ProgressTracker {
	return progress.New()
}

func OrchestratorConfigProvider(config *configfx.BksdConfig) orchestrator.Config {
	retryAttempts := uint32(0)
	if config.RetryAttempts > 0 {
		retryAttempts = uint32(config.RetryAttempts)
	}

	return orchestrator.Config{
		BackupRoot:      config.BackupDirectory,
		TransferEngine:  config.TransferEngine,
		VerifyTransfers: config.VerifyTransfers,
		RetryAttempts:   retryAttempts,
	}
}

func TransferFactory() *transfer.Factory {
	return transfer.NewFactory(map[string]domain.TransferEngine{
		transfer.EngineRsync:     rsyncengine.New(),
		transfer.EngineSimulated: simengine.New(),
	})
}

func VerifierProvider() verifier.Comparator {
	return verifier.New()
}

func NewOrchestrator(
	logger *logrus.Logger,
	config orchestrator.Config,
	adapter domain.HardwareAdapter,
	engines *transfer.Factory,
	v verifier.Comparator,
	persistence domain.Persistence,
	progress domain.ProgressTracker,
) *orchestrator.Orchestrator {
	return orchestrator.New(logger, config, adapter, engines, v, persistence, progress)
}

func RunOrchestrator(lc fx.Lifecycle, logger *logrus.Logger, o *orchestrator.Orchestrator) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())

			go func() {
				if err := o.Run(runCtx); err != nil && err != context.Canceled {
					logger.WithError(err).Error("orchestrator stopped")
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
