// Package simengine implements a deterministic, non-destructive stand-in for
// a real transfer engine: it writes a fixed, reproducible file tree rather
// than copying source_dir, so repeated runs are byte-identical without
// depending on wall-clock time or randomness (spec §8 round-trip property).
//
// Adapted from the teacher's recursive directory writer
// (pkg/transfer/transfer.go's CopyDir/CopyFile), rewritten to synthesize
// fixed content instead of copying from source_dir.
package simengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/bksd/bksd/pkg/domain"
)

const (
	fileCount  = 4
	fileSize   = 64 * 1024
	tickPeriod = 50 * time.Millisecond
)

// Engine synthesizes a fixed directory tree in place of a real copy.
type Engine struct{}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Transfer(ctx context.Context, sourceDir, destinationDir string, owner *domain.FileOwner, progress chan<- domain.TransferProgress) (domain.TransferSummary, error) {
	start := time.Now()

	if err := os.MkdirAll(destinationDir, 0o755); err != nil {
		return domain.TransferSummary{}, errors.Wrap(err, "creating destination directory")
	}

	var totalBytes uint64
	for i := 0; i < fileCount; i++ {
		totalBytes += fileSize
	}

	var copied uint64
	for i := 0; i < fileCount; i++ {
		select {
		case <-ctx.Done():
			return domain.TransferSummary{}, ctx.Err()
		default:
		}

		name := fmt.Sprintf("file_%03d.bin", i)
		path := filepath.Join(destinationDir, name)

		if err := writeSyntheticFile(path, i); err != nil {
			return domain.TransferSummary{}, errors.Wrapf(err, "writing %s", name)
		}

		copied += fileSize
		pct := uint8(copied * 100 / totalBytes)

		if progress != nil {
			select {
			case progress <- domain.TransferProgress{
				BytesCopied: copied,
				TotalBytes:  totalBytes,
				CurrentFile: name,
				Percentage:  pct,
			}:
			case <-ctx.Done():
				return domain.TransferSummary{}, ctx.Err()
			}
		}

		select {
		case <-time.After(tickPeriod):
		case <-ctx.Done():
			return domain.TransferSummary{}, ctx.Err()
		}
	}

	return domain.TransferSummary{
		TotalBytes: totalBytes,
		DurationS:  uint64(time.Since(start).Seconds()),
	}, nil
}

// writeSyntheticFile writes fileSize bytes of content derived only from
// index, never from time or randomness, so two runs produce identical bytes.
func writeSyntheticFile(path string, index int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	pattern := byte('A' + index%26)
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = pattern
	}

	remaining := fileSize
	for remaining > 0 {
		n := len(buf)
		if remaining < n {
			n = remaining
		}
		if _, werr := f.Write(buf[:n]); werr != nil {
			return werr
		}
		remaining -= n
	}

	return f.Sync()
}

var _ domain.TransferEngine = (*Engine)(nil)
