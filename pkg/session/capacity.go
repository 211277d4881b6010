package session

import (
	"context"
	"time"

	"github.com/fspropfaker/fspropfaker/internal/capacity"
	"github.com/fspropfaker/fspropfaker/internal/probe"
	"github.com/fspropfaker/fspropfaker/pkg/errors"
	"github.com/fspropfaker/fspropfaker/pkg/health"
)

// statfsSource is what the dispatcher calls; only its queries count toward
// readiness.
type statfsSource struct {
	s *Session
}

func (src statfsSource) Statfs(ctx context.Context, rel string) (probe.Snapshot, error) {
	src.s.queries.Add(1)
	return src.s.query(rel)
}

// Statfs runs the metadata query for the mount root without going through
// the kernel.
func (s *Session) Statfs(ctx context.Context) (probe.Snapshot, error) {
	return s.query("")
}

func (s *Session) query(rel string) (probe.Snapshot, error) {
	start := time.Now()
	live, snap, err := s.engine.Query(rel)
	s.record("statfs", start, err)

	if err != nil {
		s.logger.Warn("statfs failed", map[string]interface{}{"path": rel, "error": err})
		if s.health != nil {
			s.health.RecordError(health.ComponentProbe, err)
		}
		return snap, err
	}

	if s.health != nil {
		s.health.RecordSuccess(health.ComponentProbe)
	}
	if s.metrics != nil {
		s.metrics.UpdateCapacity(live, snap)
	}
	s.logger.Trace("statfs", map[string]interface{}{
		"path":  rel,
		"total": snap.TotalBlocks,
		"avail": snap.AvailBlocks,
		"free":  snap.FreeBlocks,
	})
	return snap, nil
}

func (s *Session) record(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, time.Since(start), err)
	}
}

func (s *Session) applied(op string, start time.Time, blocks int64, err error) {
	s.record(op, start, err)
	if err != nil {
		s.logger.Warn("capacity rule rejected", map[string]interface{}{"operation": op, "error": err})
		return
	}
	s.logger.Info("capacity rule set", map[string]interface{}{"operation": op, "blocks": blocks})
}

// SetDiskFixed makes the total size report exactly blocks (> 0).
func (s *Session) SetDiskFixed(blocks int64) error {
	start := time.Now()
	err := s.engine.State().SetDiskFixed(blocks)
	s.applied("set_disk_fixed", start, blocks, err)
	return err
}

// SetDiskDelta offsets the real total size by blocks; zero tracks it.
func (s *Session) SetDiskDelta(blocks int64) {
	start := time.Now()
	s.engine.State().SetDiskDelta(blocks)
	s.applied("set_disk_delta", start, blocks, nil)
}

// SetFreeFixed makes the available size report blocks (> 0), capped at the total.
func (s *Session) SetFreeFixed(blocks int64) error {
	start := time.Now()
	err := s.engine.State().SetFreeFixed(blocks)
	s.applied("set_free_fixed", start, blocks, err)
	return err
}

// SetFreeDelta offsets the real available size by blocks; zero tracks it.
func (s *Session) SetFreeDelta(blocks int64) {
	start := time.Now()
	s.engine.State().SetFreeDelta(blocks)
	s.applied("set_free_delta", start, blocks, nil)
}

// SetDiskFixedMB is SetDiskFixed for a size in megabytes, rounded up to
// whole blocks. It returns the block count applied.
func (s *Session) SetDiskFixedMB(mb int64) (int64, error) {
	blocks, err := capacity.MBToBlocks(mb, s.blockSize)
	if err != nil {
		s.record("set_disk_fixed", time.Now(), err)
		return 0, err
	}
	return blocks, s.SetDiskFixed(blocks)
}

// SetDiskDeltaMB is SetDiskDelta for an offset in megabytes, rounded away
// from zero. It returns the block count applied.
func (s *Session) SetDiskDeltaMB(mb int64) (int64, error) {
	blocks, err := capacity.MBDeltaToBlocks(mb, s.blockSize)
	if err != nil {
		s.record("set_disk_delta", time.Now(), err)
		return 0, err
	}
	s.SetDiskDelta(blocks)
	return blocks, nil
}

// SetFreeFixedMB is SetFreeFixed for a size in megabytes.
func (s *Session) SetFreeFixedMB(mb int64) (int64, error) {
	blocks, err := capacity.MBToBlocks(mb, s.blockSize)
	if err != nil {
		s.record("set_free_fixed", time.Now(), err)
		return 0, err
	}
	return blocks, s.SetFreeFixed(blocks)
}

// SetFreeDeltaMB is SetFreeDelta for an offset in megabytes.
func (s *Session) SetFreeDeltaMB(mb int64) (int64, error) {
	blocks, err := capacity.MBDeltaToBlocks(mb, s.blockSize)
	if err != nil {
		s.record("set_free_delta", time.Now(), err)
		return 0, err
	}
	s.SetFreeDelta(blocks)
	return blocks, nil
}

// Rules returns the disk and free rules in effect.
func (s *Session) Rules() (disk, free capacity.Rule) {
	return s.engine.State().Rules()
}

// RealTotalBlocks probes the real total size; on failure it returns the last
// observed value, or -1.
func (s *Session) RealTotalBlocks() int64 {
	return s.engine.RealTotalBlocks()
}

// RealAvailBlocks probes the real available size like RealTotalBlocks.
func (s *Session) RealAvailBlocks() int64 {
	return s.engine.RealAvailBlocks()
}

// RealTotalMB is RealTotalBlocks in whole megabytes, or -1.
func (s *Session) RealTotalMB() int64 {
	return s.toMB(s.RealTotalBlocks())
}

// RealAvailMB is RealAvailBlocks in whole megabytes, or -1.
func (s *Session) RealAvailMB() int64 {
	return s.toMB(s.RealAvailBlocks())
}

func (s *Session) toMB(blocks int64) int64 {
	if blocks < 0 {
		return -1
	}
	return capacity.BlocksToMB(blocks, s.blockSize)
}

func (s *Session) Name() string      { return s.name }
func (s *Session) RootPath() string  { return s.root }
func (s *Session) MountPath() string { return s.mountPath }
func (s *Session) LogPath() string   { return s.logPath }
func (s *Session) BlockSize() int64  { return s.blockSize }

// Info describes a session for status output.
type Info struct {
	Name            string `json:"name"`
	RootPath        string `json:"root_path"`
	MountPath       string `json:"mount_path"`
	LogPath         string `json:"log_path,omitempty"`
	BlockSize       int64  `json:"block_size"`
	State           State  `json:"state"`
	Queries         int64  `json:"queries"`
	RealTotalBlocks int64  `json:"real_total_blocks"`
	RealAvailBlocks int64  `json:"real_avail_blocks"`
}

// Info returns a snapshot of the session's identity and state. The real
// sizes are the last observed values and are not probed.
func (s *Session) Info() Info {
	realTotal, realAvail := s.engine.State().Real()
	return Info{
		Name:            s.name,
		RootPath:        s.root,
		MountPath:       s.mountPath,
		LogPath:         s.logPath,
		BlockSize:       s.blockSize,
		State:           s.State(),
		Queries:         s.queries.Load(),
		RealTotalBlocks: realTotal,
		RealAvailBlocks: realAvail,
	}
}

// CheckHealth is a health.Tracker check function for the session's components.
func (s *Session) CheckHealth(component string) error {
	switch component {
	case health.ComponentProbe:
		_, err := s.engine.Statfs("")
		return err
	case health.ComponentMount:
		if s.State() != StateReady {
			return errors.Newf(errors.ErrCodeMountFailed, "session is %s", s.State()).WithComponent("session")
		}
		mounted, err := s.deps.isMounted(s.mountPath)
		if err != nil {
			return err
		}
		if !mounted {
			return errors.NewError(errors.ErrCodeMountFailed, "mount point is not mounted").
				WithComponent("session").WithContext("mount_path", s.mountPath)
		}
		return nil
	}
	return nil
}
