// Package simadapter implements domain.HardwareAdapter driven by text
// commands on standard input, used to exercise the orchestrator end to end
// without kernel involvement.
package simadapter

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bksd/bksd/pkg/domain"
)

const defaultUUID = "123"

// Adapter reads "add [uuid]" / "rm [uuid]" lines from an input reader
// (standard input by default) and emits a matching HardwareEvent for each.
type Adapter struct {
	input     io.Reader
	scratchDir string
	logger    logrus.FieldLogger
}

func New(scratchDir string, logger logrus.FieldLogger) *Adapter {
	return &Adapter{
		input:      os.Stdin,
		scratchDir: scratchDir,
		logger:     logger,
	}
}

// WithInput overrides the input reader, for tests driving the adapter from
// an in-memory buffer instead of standard input.
func (a *Adapter) WithInput(r io.Reader) *Adapter {
	a.input = r
	return a
}

func (a *Adapter) Start(ctx context.Context) (domain.AdapterHandle, error) {
	events := make(chan domain.HardwareEvent)

	go a.run(ctx, events)

	return domain.AdapterHandle{
		Events: events,
		Cancel: func() {},
	}, nil
}

func (a *Adapter) run(ctx context.Context, out chan<- domain.HardwareEvent) {
	defer close(out)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.input)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}

			ev, recognised := a.parseCommand(line)
			if !recognised {
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *Adapter) parseCommand(line string) (domain.HardwareEvent, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return domain.HardwareEvent{}, false
	}

	uuid := defaultUUID
	if len(fields) > 1 {
		uuid = fields[1]
	}

	switch fields[0] {
	case "add":
		return domain.HardwareEvent{
			Kind: domain.EventDeviceAdded,
			Device: domain.BlockDevice{
				UUID:          uuid,
				Label:         uuid,
				DevicePath:    filepath.Join(a.scratchDir, uuid, "device"),
				MountPoint:    filepath.Join(a.scratchDir, uuid, "mnt"),
				CapacityBytes: 0,
				Filesystem:    domain.FilesystemSimulated,
			},
		}, true
	case "rm":
		return domain.HardwareEvent{Kind: domain.EventDeviceRemoved, UUID: uuid}, true
	default:
		a.logger.WithField("command", fields[0]).Debug("ignoring unrecognised simulated adapter command")
		return domain.HardwareEvent{}, false
	}
}

// Release is a no-op: the simulated adapter never owns real mount state.
func (a *Adapter) Release(ctx context.Context, uuid string) error {
	return nil
}

var _ domain.HardwareAdapter = (*Adapter)(nil)
