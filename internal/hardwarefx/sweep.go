package hardwarefx

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"

	"github.com/bksd/bksd/internal/configfx"
)

// staleMountSweepSpec runs once a minute; this never unmounts or mutates
// tracking state (ownership of mount state is the adapter's alone per
// spec §5) — it only logs drift between the mount base and /proc/mounts
// for operator visibility.
const staleMountSweepSpec = "0 * * * * *"

func NewCron() *cron.Cron {
	return cron.New()
}

// RunStaleMountSweep registers and starts the periodic reconciliation job.
func RunStaleMountSweep(lc fx.Lifecycle, c *cron.Cron, config *configfx.BksdConfig, logger *logrus.Logger) error {
	sweepLogger := logger.WithField("component", "stale_mount_sweep")

	err := c.AddFunc(staleMountSweepSpec, func() {
		sweepOnce(config.MountBase, sweepLogger)
	})
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Stop()
			return nil
		},
	})

	return nil
}

func sweepOnce(mountBase string, logger logrus.FieldLogger) {
	entries, err := os.ReadDir(mountBase)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).Warn("unable to list mount base")
		}
		return
	}

	mounted := mountedPaths(mountBase)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := mountBase + "/" + entry.Name()
		if !mounted[path] {
			logger.WithField("path", path).Warn("mount point directory exists but is not an active mount")
		}
	}
}

func mountedPaths(mountBase string) map[string]bool {
	result := map[string]bool{}

	f, err := os.Open("/proc/mounts")
	if err != nil {
		return result
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		if strings.HasPrefix(fields[1], mountBase) {
			result[fields[1]] = true
		}
	}

	return result
}
