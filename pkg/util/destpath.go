package util

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// maxCollisionAttempts bounds the _NN suffix search so a pathological burst
// of same-second arrivals returns an error instead of looping forever
// (spec §9 Open Question (c)).
const maxCollisionAttempts = 100

var destinationMu sync.Mutex

// ResolveDestination builds "<backupRoot>/<label>/<timestamp>" and resolves
// collisions by appending a zero-padded "_NN" ordinal, serialized under a
// process-wide mutex so concurrent jobs cannot race on the same suffix.
func ResolveDestination(backupRoot, label string, now time.Time) (string, error) {
	destinationMu.Lock()
	defer destinationMu.Unlock()

	// Second-resolution timestamp component (spec §3 invariant); the _NN
	// ordinal below resolves same-second collisions on top of it.
	timestamp := now.UTC().Format("2006-01-02_T1504_05")
	base := filepath.Join(backupRoot, label, timestamp)

	for n := 0; n < maxCollisionAttempts; n++ {
		candidate := fmt.Sprintf("%s_%02d", base, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}

	return "", errors.Errorf("too many destination collisions for %s", base)
}
