package hardwarefx

import (
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(AdapterProvider),
	fx.Provide(NewCron),
	fx.Invoke(RunStaleMountSweep),
)
