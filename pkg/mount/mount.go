// Package mount manages the scratch directories the Linux hardware adapter
// creates under its mount base, adapted from the teacher's temp-directory
// allocator to be keyed by device uuid instead of a random name so a
// re-mount of the same device lands on the same path.
package mount

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultBase is used when configuration does not override it.
const DefaultBase = "/run/bksd"

type Allocator struct {
	base string
}

func New(base string) *Allocator {
	if base == "" {
		base = DefaultBase
	}
	return &Allocator{base: base}
}

// Allocate creates and returns "<base>/<uuid>".
func (a *Allocator) Allocate(uuid string) (string, error) {
	dir := filepath.Join(a.base, uuid)

	if err := os.MkdirAll(a.base, 0o755); err != nil {
		return "", errors.Wrap(err, "creating mount base")
	}
	if err := os.Mkdir(dir, 0o755); err != nil && !os.IsExist(err) {
		return "", errors.Wrapf(err, "creating mount point %s", dir)
	}

	return dir, nil
}

// Deallocate removes a mount point directory previously created by Allocate.
// Callers must have already unmounted it.
func (a *Allocator) Deallocate(dir string) error {
	return os.Remove(dir)
}
