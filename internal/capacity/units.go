package capacity

import (
	"math"

	"github.com/fspropfaker/fspropfaker/pkg/errors"
)

// MegaByte is the decimal megabyte used by the *MB setters and accessors.
const MegaByte int64 = 1_000_000

func mbToBytes(mb int64) (int64, error) {
	if mb > math.MaxInt64/MegaByte || mb < math.MinInt64/MegaByte {
		return 0, errors.Newf(errors.ErrCodeValueOutOfRange, "%d MB overflows a byte count", mb).
			WithComponent("capacity")
	}
	return mb * MegaByte, nil
}

// MBToBlocks converts an absolute size to blocks, rounding up so the
// resulting size is at least mb megabytes.
func MBToBlocks(mb, blockSize int64) (int64, error) {
	bytes, err := mbToBytes(mb)
	if err != nil {
		return 0, err
	}
	blocks := bytes / blockSize
	if bytes%blockSize > 0 {
		blocks++
	}
	return blocks, nil
}

// MBDeltaToBlocks converts an offset to blocks, rounding away from zero.
func MBDeltaToBlocks(mb, blockSize int64) (int64, error) {
	bytes, err := mbToBytes(mb)
	if err != nil {
		return 0, err
	}
	blocks := bytes / blockSize
	if bytes%blockSize != 0 {
		if mb > 0 {
			blocks++
		} else {
			blocks--
		}
	}
	return blocks, nil
}

// BlocksToMB converts a block count to whole megabytes, truncating toward zero.
func BlocksToMB(blocks, blockSize int64) int64 {
	if blocks < 0 {
		return -BlocksToMB(-blocks, blockSize)
	}
	q, r := blocks/MegaByte, blocks%MegaByte
	return q*blockSize + r*blockSize/MegaByte
}
