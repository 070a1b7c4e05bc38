package orchestratorfx

import (
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(OrchestratorConfigProvider),
	fx.Provide(TransferFactory),
	fx.Provide(VerifierProvider),
	fx.Provide(ProgressTracker),
	fx.Provide(NewOrchestrator),
	fx.Invoke(RunOrchestrator),
)
