package capacity

import (
	"path/filepath"

	"github.com/fspropfaker/fspropfaker/internal/probe"
	"github.com/fspropfaker/fspropfaker/pkg/errors"
)

// Engine answers statfs queries for one session root.
type Engine struct {
	prober    probe.Prober
	root      string
	blockSize int64
	state     *State
}

// NewEngine returns an engine for root whose block size was fixed at
// blockSize when the session was created.
func NewEngine(prober probe.Prober, root string, blockSize int64) *Engine {
	return &Engine{
		prober:    prober,
		root:      root,
		blockSize: blockSize,
		state:     NewState(),
	}
}

// State returns the mutable faking state.
func (e *Engine) State() *State {
	return e.state
}

// BlockSize returns the block size fixed at creation.
func (e *Engine) BlockSize() int64 {
	return e.blockSize
}

// Statfs probes root/rel and returns the faked snapshot. The probe runs
// without holding the state lock.
func (e *Engine) Statfs(rel string) (probe.Snapshot, error) {
	_, faked, err := e.Query(rel)
	return faked, err
}

// Query is Statfs that also returns the real snapshot the faked one was
// resolved from.
func (e *Engine) Query(rel string) (live, faked probe.Snapshot, err error) {
	live, err = e.probe(rel)
	if err != nil {
		return probe.Snapshot{}, probe.Snapshot{}, err
	}

	if live.BlockSize != e.blockSize {
		return probe.Snapshot{}, probe.Snapshot{}, errors.Newf(errors.ErrCodeBlockSizeChanged,
			"block size changed from %d to %d", e.blockSize, live.BlockSize).
			WithComponent("capacity").
			WithOperation("statfs").
			WithDetail("expected", e.blockSize).
			WithDetail("actual", live.BlockSize)
	}

	disk, free := e.state.observe(live.TotalBlocks, live.AvailBlocks)
	return live, Resolve(live, disk, free), nil
}

// RealTotalBlocks probes the real total size. On failure it returns the last
// observed value, or -1 if there is none.
func (e *Engine) RealTotalBlocks() int64 {
	live, err := e.probe("")
	if err != nil {
		return e.state.RealTotal()
	}
	e.state.observe(live.TotalBlocks, live.AvailBlocks)
	return live.TotalBlocks
}

// RealAvailBlocks is RealTotalBlocks for the available size.
func (e *Engine) RealAvailBlocks() int64 {
	live, err := e.probe("")
	if err != nil {
		return e.state.RealAvail()
	}
	e.state.observe(live.TotalBlocks, live.AvailBlocks)
	return live.AvailBlocks
}

func (e *Engine) probe(rel string) (probe.Snapshot, error) {
	path := e.root
	if rel != "" {
		path = filepath.Join(e.root, rel)
	}
	snap, err := e.prober.Probe(path)
	if err != nil {
		return probe.Snapshot{}, errors.Wrap(err, errors.ErrCodeProbeFailed, "statfs on real filesystem failed").
			WithComponent("capacity").
			WithOperation("probe").
			WithContext("path", path)
	}
	return snap, nil
}
