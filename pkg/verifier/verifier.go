// Package verifier implements the post-copy content verification pass
// (spec §4.3): a sequential, streaming BLAKE3 comparison of source and
// destination trees, walked in deterministic lexicographic order.
package verifier

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/bksd/bksd/pkg/domain"
)

const hashBufSize = 64 * 1024

// Result is the outcome of a verification pass.
type Result struct {
	Mismatches []domain.Mismatch
}

// OK reports whether verification found no mismatches.
func (r Result) OK() bool { return len(r.Mismatches) == 0 }

// Comparator adapts Verify to an interface value so callers can substitute a
// fake in tests instead of depending on the package-level function.
type Comparator struct{}

func New() Comparator { return Comparator{} }

func (Comparator) Verify(ctx context.Context, sourceRoot, destinationRoot string, ticks chan<- domain.VerifyTick) (Result, error) {
	return Verify(ctx, sourceRoot, destinationRoot, ticks)
}

// Verify walks sourceRoot in lexicographic order and compares each entry
// against the corresponding path under destinationRoot, sending a
// VerifyTick after every entry so the orchestrator can relay
// Verifying{current,total} progress to the Progress Tracker. Comparison is
// strictly sequential.
func Verify(ctx context.Context, sourceRoot, destinationRoot string, ticks chan<- domain.VerifyTick) (Result, error) {
	entries, err := collectEntries(sourceRoot)
	if err != nil {
		return Result{}, errors.Wrap(err, "walking source tree")
	}

	total := uint64(len(entries))
	var result Result

	for i, rel := range entries {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		mismatch, err := compareEntry(sourceRoot, destinationRoot, rel)
		if err != nil {
			return result, errors.Wrapf(err, "comparing %s", rel)
		}
		if mismatch != nil {
			result.Mismatches = append(result.Mismatches, *mismatch)
		}

		if ticks != nil {
			select {
			case ticks <- domain.VerifyTick{Current: uint64(i + 1), Total: total}:
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	return result, nil
}

// collectEntries walks sourceRoot and returns every regular file, directory,
// and symlink's path relative to sourceRoot, in lexicographic order.
func collectEntries(root string) ([]string, error) {
	var rels []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(rels)
	return rels, nil
}

func compareEntry(sourceRoot, destinationRoot, rel string) (*domain.Mismatch, error) {
	srcPath := filepath.Join(sourceRoot, rel)
	dstPath := filepath.Join(destinationRoot, rel)

	srcInfo, err := os.Lstat(srcPath)
	if err != nil {
		return nil, err
	}

	dstInfo, err := os.Lstat(dstPath)
	if os.IsNotExist(err) {
		return &domain.Mismatch{RelativePath: rel, Kind: domain.MismatchMissingInDestination}, nil
	} else if err != nil {
		return nil, err
	}

	switch {
	case srcInfo.Mode()&os.ModeSymlink != 0:
		if dstInfo.Mode()&os.ModeSymlink == 0 {
			return &domain.Mismatch{RelativePath: rel, Kind: domain.MismatchTypeMismatch}, nil
		}
		srcTarget, err := os.Readlink(srcPath)
		if err != nil {
			return nil, err
		}
		dstTarget, err := os.Readlink(dstPath)
		if err != nil {
			return nil, err
		}
		if srcTarget != dstTarget {
			return &domain.Mismatch{RelativePath: rel, Kind: domain.MismatchHashMismatch}, nil
		}
		return nil, nil

	case srcInfo.IsDir():
		if !dstInfo.IsDir() {
			return &domain.Mismatch{RelativePath: rel, Kind: domain.MismatchTypeMismatch}, nil
		}
		return nil, nil

	case srcInfo.Mode().IsRegular():
		if !dstInfo.Mode().IsRegular() {
			return &domain.Mismatch{RelativePath: rel, Kind: domain.MismatchTypeMismatch}, nil
		}

		srcHash, err := hashFile(srcPath)
		if err != nil {
			return nil, err
		}
		dstHash, err := hashFile(dstPath)
		if err != nil {
			return nil, err
		}
		if srcHash != dstHash {
			return &domain.Mismatch{RelativePath: rel, Kind: domain.MismatchHashMismatch}, nil
		}
		return nil, nil

	default:
		// Other file types (devices, sockets, fifos) are ignored per spec.
		return nil, nil
	}
}

// hashFile computes the hex-encoded BLAKE3 digest of path, streaming so
// memory usage is bounded regardless of file size.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, hashBufSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
