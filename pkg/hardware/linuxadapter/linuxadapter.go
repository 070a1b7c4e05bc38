// Package linuxadapter implements domain.HardwareAdapter over udev, grounded
// on the shell-out + line-scanning udevadm monitor pattern used elsewhere in
// this codebase (exec.Command + bufio.Scanner over a StdoutPipe, subprocess
// killed on context cancellation).
//
// Because the udev monitor subprocess's stdout pipe cannot be read from
// multiple goroutines safely and the kernel event stream must not stall
// behind slow mount/unmount syscalls, the blocking read runs on a dedicated,
// locked OS thread and forwards already-extracted key=value data over a
// channel to an async processor that performs the mount/unmount work and
// emits domain.HardwareEvent.
package linuxadapter

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bksd/bksd/pkg/domain"
	"github.com/bksd/bksd/pkg/mount"
)

// pollerWakeInterval bounds how long the poller blocks on a send before
// re-checking ctx.Done(), satisfying the ≤1s adapter cancellation contract.
const pollerWakeInterval = 500 * time.Millisecond

type rawDeviceEvent struct {
	action string
	props  map[string]string
}

type mountInfo struct {
	mountPoint string
	devicePath string
	ownedByUs  bool
}

// Adapter is the udev-backed HardwareAdapter.
type Adapter struct {
	mounts *mount.Allocator
	logger logrus.FieldLogger

	mu     sync.Mutex
	tracked map[string]mountInfo
}

func New(mountBase string, logger logrus.FieldLogger) *Adapter {
	return &Adapter{
		mounts:  mount.New(mountBase),
		logger:  logger,
		tracked: make(map[string]mountInfo),
	}
}

func (a *Adapter) Start(ctx context.Context) (domain.AdapterHandle, error) {
	runCtx, cancel := context.WithCancel(ctx)

	raw := make(chan rawDeviceEvent)
	events := make(chan domain.HardwareEvent)

	go a.runPoller(runCtx, raw)
	go a.runProcessor(runCtx, raw, events)

	return domain.AdapterHandle{
		Events: events,
		Cancel: cancel,
	}, nil
}

// runPoller blocks reading udevadm monitor output on a dedicated, locked OS
// thread; it never touches mount state itself.
func (a *Adapter) runPoller(ctx context.Context, out chan<- rawDeviceEvent) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(out)

	cmd := exec.Command("udevadm", "monitor", "--udev", "--subsystem-match=block", "--property")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		a.logger.WithError(err).Error("unable to open udevadm stdout pipe")
		return
	}
	if err := cmd.Start(); err != nil {
		a.logger.WithError(err).Error("unable to start udevadm monitor")
		return
	}

	go func() {
		<-ctx.Done()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}()

	sc := bufio.NewScanner(stdout)
	props := map[string]string{}

	flush := func() {
		action, ok := props["ACTION"]
		if !ok || (action != "add" && action != "remove") {
			props = map[string]string{}
			return
		}

		ev := rawDeviceEvent{action: action, props: props}
		props = map[string]string{}

		for {
			select {
			case out <- ev:
				return
			case <-ctx.Done():
				return
			case <-time.After(pollerWakeInterval):
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			flush()
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			props[line[:i]] = line[i+1:]
		}
	}
	flush()

	_ = cmd.Wait()
}

// runProcessor performs the gating, mount/unmount, and tracking-map
// maintenance described by the add/remove contract, off the locked thread.
func (a *Adapter) runProcessor(ctx context.Context, raw <-chan rawDeviceEvent, out chan<- domain.HardwareEvent) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-raw:
			if !ok {
				return
			}

			switch ev.action {
			case "add":
				if hw, ok := a.handleAdd(ev.props); ok {
					select {
					case out <- hw:
					case <-ctx.Done():
						return
					}
				}
			case "remove":
				uuid := ev.props["ID_FS_UUID"]
				if uuid == "" {
					continue
				}
				if a.releaseDevice(uuid) {
					select {
					case out <- domain.HardwareEvent{Kind: domain.EventDeviceRemoved, UUID: uuid}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}
}

func (a *Adapter) handleAdd(props map[string]string) (domain.HardwareEvent, bool) {
	uuid := props["ID_FS_UUID"]
	if uuid == "" {
		return domain.HardwareEvent{}, false
	}

	fs := domain.Filesystem(props["ID_FS_TYPE"])
	if !domain.SupportedFilesystems[fs] {
		a.logger.WithField("filesystem", fs).Debug("ignoring device with unsupported filesystem")
		return domain.HardwareEvent{}, false
	}

	devicePath := props["DEVNAME"]
	label := props["ID_FS_LABEL"]
	capacity := parseCapacity(props["ID_FS_SIZE"])

	a.mu.Lock()
	if _, already := a.tracked[uuid]; already {
		a.mu.Unlock()
		return domain.HardwareEvent{}, false
	}
	a.mu.Unlock()

	mountPoint, owned, err := a.resolveMountPoint(uuid, devicePath, fs)
	if err != nil {
		a.logger.WithError(err).WithField("device_uuid", uuid).Error("unable to mount device")
		return domain.HardwareEvent{}, false
	}

	a.mu.Lock()
	a.tracked[uuid] = mountInfo{mountPoint: mountPoint, devicePath: devicePath, ownedByUs: owned}
	a.mu.Unlock()

	return domain.HardwareEvent{
		Kind: domain.EventDeviceAdded,
		Device: domain.BlockDevice{
			UUID:          uuid,
			Label:         label,
			DevicePath:    devicePath,
			MountPoint:    mountPoint,
			CapacityBytes: capacity,
			Filesystem:    fs,
		},
	}, true
}

// resolveMountPoint adopts an existing mount from /proc/mounts if present,
// otherwise allocates a mount point under the adapter's mount base and
// mounts the device with filesystem-appropriate options.
func (a *Adapter) resolveMountPoint(uuid, devicePath string, fs domain.Filesystem) (string, bool, error) {
	if existing, ok := lookupExistingMount(devicePath); ok {
		return existing, false, nil
	}

	mountPoint, err := a.mounts.Allocate(uuid)
	if err != nil {
		return "", false, err
	}

	args := []string{"-t", string(fs)}
	if opts := mountOptions(fs); opts != "" {
		args = append(args, "-o", opts)
	}
	args = append(args, devicePath, mountPoint)

	if out, err := exec.Command("mount", args...).CombinedOutput(); err != nil {
		_ = a.mounts.Deallocate(mountPoint)
		return "", false, &domain.TransferError{Message: strings.TrimSpace(string(out))}
	}

	return mountPoint, true, nil
}

func mountOptions(fs domain.Filesystem) string {
	switch fs {
	case domain.FilesystemExfat, domain.FilesystemVfat, domain.FilesystemNtfs:
		return "rw,uid=0,gid=0"
	default:
		return "rw"
	}
}

// lookupExistingMount consults /proc/mounts for devicePath already mounted
// elsewhere, so an adapter restart adopts rather than double-mounts it.
func lookupExistingMount(devicePath string) (string, bool) {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return "", false
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] == devicePath {
			return fields[1], true
		}
	}
	return "", false
}

// releaseDevice unmounts (if owned) and drops the tracking entry for uuid.
// Shared by the remove-event path and the explicit Release call.
func (a *Adapter) releaseDevice(uuid string) bool {
	a.mu.Lock()
	info, ok := a.tracked[uuid]
	if !ok {
		a.mu.Unlock()
		return false
	}
	delete(a.tracked, uuid)
	a.mu.Unlock()

	if !info.ownedByUs {
		return true
	}

	_ = exec.Command("sync", "-f", info.mountPoint).Run()
	_ = exec.Command("umount", "-l", info.mountPoint).Run()
	_ = a.mounts.Deallocate(info.mountPoint)

	return true
}

func (a *Adapter) Release(ctx context.Context, uuid string) error {
	a.releaseDevice(uuid)
	return nil
}

func parseCapacity(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}

var _ domain.HardwareAdapter = (*Adapter)(nil)
