package memutils

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

const (
	// CreatedFillPattern is written over fresh payloads when allocation initialization is active
	CreatedFillPattern uint8 = 0xDC
	// DestroyedFillPattern is written over released payloads when allocation initialization is active
	DestroyedFillPattern uint8 = 0xEF
)

// Number is any integer type that alignment math can be performed on
type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return errors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two.
// Overflow is not checked: a value within alignment-1 of the type's maximum wraps around.
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two.
func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}
