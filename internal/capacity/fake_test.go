package capacity

import (
	"sync"

	"github.com/fspropfaker/fspropfaker/internal/probe"
)

type fakeProber struct {
	mu    sync.Mutex
	snap  probe.Snapshot
	err   error
	paths []string
}

func newFakeProber(blockSize, total, avail, free int64) *fakeProber {
	return &fakeProber{snap: probe.Snapshot{
		BlockSize:   blockSize,
		IOSize:      blockSize,
		TotalBlocks: total,
		AvailBlocks: avail,
		FreeBlocks:  free,
		Files:       1000,
		FreeFiles:   900,
		NameLen:     255,
	}}
}

func (f *fakeProber) Probe(path string) (probe.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return f.snap, f.err
}

func (f *fakeProber) set(fn func(s *probe.Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.snap)
}

func (f *fakeProber) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
