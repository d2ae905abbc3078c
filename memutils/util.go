package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint64
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}
	return value & int(^(alignment - 1))
}

// LastByte returns the inclusive offset of the final byte of a region that starts at offset and
// spans size bytes. Heap pages report placements as inclusive [min, max] ranges.
func LastByte(offset, size int) int {
	return offset + size - 1
}

// CheckRange verifies that an inclusive byte range is well-formed
func CheckRange(min, max int, name string) error {
	if min < 0 || min > max {
		return cerrors.Wrapf(RangeError, "%s is [%d, %d]", name, min, max)
	}
	return nil
}

// RangesOverlap reports whether two inclusive byte ranges share at least one byte
func RangesOverlap(firstMin, firstMax, secondMin, secondMax int) bool {
	return !(firstMax < secondMin || firstMin > secondMax)
}
