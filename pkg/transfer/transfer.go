// Package transfer selects a domain.TransferEngine implementation by name,
// mirroring the teacher's mount-name-keyed Manager but keyed on engine kind
// instead of storage name.
package transfer

import (
	"github.com/pkg/errors"

	"github.com/bksd/bksd/pkg/domain"
)

const (
	EngineRsync     = "rsync"
	EngineSimulated = "simulated"
)

var ErrUnknownEngine = errors.New("unknown transfer engine kind")

// Factory resolves an engine kind string to a domain.TransferEngine.
type Factory struct {
	engines map[string]domain.TransferEngine
}

func NewFactory(engines map[string]domain.TransferEngine) *Factory {
	return &Factory{engines: engines}
}

func (f *Factory) Engine(kind string) (domain.TransferEngine, error) {
	engine, ok := f.engines[kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEngine, "%q", kind)
	}
	return engine, nil
}

// SkipsVerification reports whether a job run with this engine kind skips
// the post-copy verification pass (spec §4.3: bound to engine kind, not
// adapter kind).
func SkipsVerification(kind string) bool {
	return kind == EngineSimulated
}
