package main

import (
	"time"

	"go.uber.org/fx"

	"github.com/bksd/bksd/internal/configfx"
	"github.com/bksd/bksd/internal/hardwarefx"
	"github.com/bksd/bksd/internal/loggerfx"
	"github.com/bksd/bksd/internal/orchestratorfx"
	"github.com/bksd/bksd/internal/rpcfx"
	"github.com/bksd/bksd/internal/sqlfx"
)

func main() {
	logger := loggerfx.Logger()

	app := fx.New(
		fx.StartTimeout(15*time.Second),
		fx.StopTimeout(15*time.Second),

		fx.Logger(logger),

		loggerfx.Module,
		configfx.Module,
		sqlfx.Module,
		hardwarefx.Module,
		orchestratorfx.Module,
		rpcfx.Module,
	)

	app.Run()
}
