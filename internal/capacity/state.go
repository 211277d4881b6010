// Package capacity holds the capacity-faking rules of a session and resolves
// them against live filesystem numbers for every statfs query.
package capacity

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fspropfaker/fspropfaker/pkg/errors"
)

// Mode selects how a Rule derives its value.
type Mode int

const (
	// ModeDelta offsets the real value; an offset of zero tracks it exactly.
	ModeDelta Mode = iota
	// ModeFixed reports an absolute value.
	ModeFixed
)

func (m Mode) String() string {
	switch m {
	case ModeDelta:
		return "delta"
	case ModeFixed:
		return "fixed"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "fixed" or "delta".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed":
		return ModeFixed, nil
	case "delta", "diff":
		return ModeDelta, nil
	}
	return ModeDelta, errors.Newf(errors.ErrCodeValidationFailed, "unknown faking mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Rule is one faking rule: an absolute block count or an offset from the
// real value. The zero Rule tracks the real value.
type Rule struct {
	Mode   Mode  `json:"mode"`
	Blocks int64 `json:"blocks"`
}

// Tracking reports whether the rule passes the real value through unchanged.
func (r Rule) Tracking() bool {
	return r.Mode == ModeDelta && r.Blocks == 0
}

func (r Rule) String() string {
	if r.Mode == ModeFixed {
		return fmt.Sprintf("fixed %d", r.Blocks)
	}
	return fmt.Sprintf("delta %+d", r.Blocks)
}

// State is the mutable faking configuration of one session together with the
// last real values seen. All methods are safe for concurrent use.
type State struct {
	mu        sync.Mutex
	realTotal int64
	realAvail int64
	disk      Rule
	free      Rule
}

// NewState returns a state that tracks the real filesystem and has not yet
// observed it.
func NewState() *State {
	return &State{realTotal: -1, realAvail: -1}
}

// SetDiskFixed makes the total size report exactly blocks.
func (s *State) SetDiskFixed(blocks int64) error {
	if blocks <= 0 {
		return errors.Newf(errors.ErrCodeValueOutOfRange, "fixed disk size must be positive, got %d blocks", blocks).
			WithComponent("capacity").WithOperation("set_disk_fixed")
	}
	s.setDisk(Rule{Mode: ModeFixed, Blocks: blocks})
	return nil
}

// SetDiskDelta offsets the real total size by blocks; zero tracks the real size.
func (s *State) SetDiskDelta(blocks int64) {
	s.setDisk(Rule{Mode: ModeDelta, Blocks: blocks})
}

// SetFreeFixed makes the available size report blocks, capped at the total.
func (s *State) SetFreeFixed(blocks int64) error {
	if blocks <= 0 {
		return errors.Newf(errors.ErrCodeValueOutOfRange, "fixed free size must be positive, got %d blocks", blocks).
			WithComponent("capacity").WithOperation("set_free_fixed")
	}
	s.setFree(Rule{Mode: ModeFixed, Blocks: blocks})
	return nil
}

// SetFreeDelta offsets the real available size by blocks; zero tracks it.
func (s *State) SetFreeDelta(blocks int64) {
	s.setFree(Rule{Mode: ModeDelta, Blocks: blocks})
}

func (s *State) setDisk(r Rule) {
	s.mu.Lock()
	s.disk = r
	s.mu.Unlock()
}

func (s *State) setFree(r Rule) {
	s.mu.Lock()
	s.free = r
	s.mu.Unlock()
}

// Rules returns a consistent copy of both rules.
func (s *State) Rules() (disk, free Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disk, s.free
}

// RealTotal returns the last observed real total, or -1.
func (s *State) RealTotal() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realTotal
}

// RealAvail returns the last observed real available count, or -1.
func (s *State) RealAvail() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realAvail
}

// Real returns the last observed real total and available counts as one
// pair, or -1 for both.
func (s *State) Real() (total, avail int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realTotal, s.realAvail
}

// observe records real values and returns the rules in effect, atomically.
func (s *State) observe(total, avail int64) (disk, free Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realTotal = total
	s.realAvail = avail
	return s.disk, s.free
}
