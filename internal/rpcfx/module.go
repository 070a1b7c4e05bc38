package rpcfx

import (
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(DaemonInfoProvider),
	fx.Provide(RPCHandler),
	fx.Provide(RPCListener),
	fx.Provide(RPCServer),
	fx.Invoke(RunRPCServer),

	fx.Provide(HttpServerConfigProvider),
	fx.Provide(HttpRouter),
	fx.Provide(HttpListener),
	fx.Provide(HttpServer),
	fx.Invoke(RunHttpServer),

	fx.Provide(HealthHandlerProvider),
	fx.Invoke(RegisterHealthHandler),
)
