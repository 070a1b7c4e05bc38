package util

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/pkg/errors"

	"github.com/bksd/bksd/pkg/domain"
)

// BackupOwner resolves the uid/gid backup files should be chowned to: the
// user named by SUDO_USER if set, otherwise the owner of backupRoot.
func BackupOwner(backupRoot string) (domain.FileOwner, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		u, err := user.Lookup(sudoUser)
		if err != nil {
			return domain.FileOwner{}, errors.Wrapf(err, "unable to look up SUDO_USER %q", sudoUser)
		}

		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return domain.FileOwner{}, errors.Wrapf(err, "invalid uid for %q", sudoUser)
		}
		gid, err := strconv.Atoi(u.Gid)
		if err != nil {
			return domain.FileOwner{}, errors.Wrapf(err, "invalid gid for %q", sudoUser)
		}

		return domain.FileOwner{UID: uid, GID: gid}, nil
	}

	info, err := os.Stat(backupRoot)
	if err != nil {
		return domain.FileOwner{}, errors.Wrapf(err, "unable to stat backup root %q", backupRoot)
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return domain.FileOwner{}, errors.New("unable to determine backup root owner on this platform")
	}

	return domain.FileOwner{UID: int(stat.Uid), GID: int(stat.Gid)}, nil
}

// ChownRecursive chowns root and everything beneath it to owner.
func ChownRecursive(root string, owner domain.FileOwner) error {
	return filepath.Walk(root, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(path, owner.UID, owner.GID)
	})
}
