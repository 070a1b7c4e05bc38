// Package hardwarefx wires the HardwareAdapter selected by configuration
// (udev-backed on a real host, stdin-driven in simulation) and a periodic
// stale-mount reconciliation sweep.
package hardwarefx

import (
	"github.com/sirupsen/logrus"

	"github.com/bksd/bksd/internal/configfx"
	"github.com/bksd/bksd/pkg/domain"
	"github.com/bksd/bksd/pkg/hardware/linuxadapter"
	"github.com/bksd/bksd/pkg/hardware/simadapter"
)

// AdapterProvider selects the Linux udev adapter or the stdin-driven
// simulated adapter based on BKSD_SIMULATION.
func AdapterProvider(config *configfx.BksdConfig, logger *logrus.Logger) domain.HardwareAdapter {
	if config.Simulation {
		return simadapter.New(config.MountBase, logger)
	}
	return linuxadapter.New(config.MountBase, logger)
}
