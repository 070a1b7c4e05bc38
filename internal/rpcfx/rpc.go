// Package rpcfx wires the localhost JSON-RPC server (pkg/rpc) and the
// ambient HTTP health surface into the fx graph, replacing the teacher's
// metricsfx (Docker-backup Prometheus-style metrics endpoint — dropped,
// see DESIGN.md) with BKSD's daemon-status and job-history query surface.
package rpcfx

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"

	"github.com/bksd/bksd/internal/configfx"
	"github.com/bksd/bksd/pkg/domain"
	"github.com/bksd/bksd/pkg/rpc"
)

const daemonVersion = "0.1.0"

func DaemonInfoProvider(config *configfx.BksdConfig) rpc.DaemonInfo {
	return rpc.DaemonInfo{
		Version:    daemonVersion,
		RPCBind:    config.RPCBind,
		Simulation: config.Simulation,
	}
}

func RPCHandler(persistence domain.Persistence, progress domain.ProgressTracker, info rpc.DaemonInfo) *rpc.Handler {
	return rpc.NewHandler(persistence, progress, info)
}

type rpcListenerResult struct {
	fx.Out
	Listener net.Listener `name:"rpc"`
}

func RPCListener(config *configfx.BksdConfig) (rpcListenerResult, error) {
	if !config.RPCEnabled {
		return rpcListenerResult{}, nil
	}
	l, err := net.Listen("tcp", config.RPCBind)
	return rpcListenerResult{Listener: l}, err
}

type rpcListenerParam struct {
	fx.In
	Listener net.Listener `name:"rpc"`
}

func RPCServer(p rpcListenerParam, handler *rpc.Handler, logger *logrus.Logger) *rpc.Server {
	if p.Listener == nil {
		return nil
	}
	return rpc.NewServer(p.Listener, handler, logger.WithField("component", "rpc"))
}

func RunRPCServer(lc fx.Lifecycle, p rpcListenerParam, server *rpc.Server, logger *logrus.Logger) {
	listener := p.Listener
	if server == nil {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.Serve(); err != nil {
					logger.WithError(err).Warn("rpc server stopped")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return listener.Close()
		},
	})
}
