package memutils

import "github.com/cockroachdb/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrOutOfMemory is returned when a request could not be satisfied from the free blocks of a region
// and the region could not be extended to make room for it
var ErrOutOfMemory error = errors.New("out of memory")
