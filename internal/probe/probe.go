// Package probe reads live capacity numbers from the real filesystem behind a
// session's root directory.
package probe

// Snapshot is the result of one statfs query. Block counts are in units of
// BlockSize.
type Snapshot struct {
	BlockSize   int64 `json:"block_size"`
	IOSize      int64 `json:"io_size"`
	TotalBlocks int64 `json:"total_blocks"`
	FreeBlocks  int64 `json:"free_blocks"`
	AvailBlocks int64 `json:"avail_blocks"`
	Files       int64 `json:"files"`
	FreeFiles   int64 `json:"free_files"`
	NameLen     int64 `json:"name_len"`
}

// Reserved returns the blocks free for privileged users only.
func (s Snapshot) Reserved() int64 {
	return s.FreeBlocks - s.AvailBlocks
}

// Prober queries filesystem metadata for a path.
type Prober interface {
	Probe(path string) (Snapshot, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(path string) (Snapshot, error)

// Probe calls f(path).
func (f ProberFunc) Probe(path string) (Snapshot, error) {
	return f(path)
}

// StatfsProber probes with statfs(2). It holds no state and is safe for
// concurrent use.
type StatfsProber struct{}

// Probe returns a fresh snapshot of the filesystem containing path.
func (StatfsProber) Probe(path string) (Snapshot, error) {
	return statfs(path)
}
