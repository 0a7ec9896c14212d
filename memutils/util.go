package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that sizes, offsets, and alignments are expressed in
type Number interface {
	constraints.Integer
}

// IsPow2 returns true if number is a nonzero power of two
func IsPow2[T Number](number T) bool {
	return number > 0 && number&(number-1) == 0
}

// CheckPow2 returns an error wrapping ZeroValueError or PowerOfTwoError if number is not a positive
// power of two. name is used to identify the offending value in the error message.
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 {
		return cerrors.Wrapf(ZeroValueError, "%s is %d", name, number)
	}
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp(value int, alignment uint) int {
	DebugCheckPow2(alignment, "alignment")
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two
func AlignDown(value int, alignment uint) int {
	DebugCheckPow2(alignment, "alignment")
	return value & int(^(alignment - 1))
}
